package sso

// MapIdentity converts a validated assertion into a typed identity using the
// provider's attribute and role mappings. Email is mandatory because it is
// the provisioning key.
func MapIdentity(assertion *SAMLAssertion, cfg *IdentityProviderConfig) (*ValidatedIdentity, error) {
	mapping := cfg.AttributeMapping
	attrs := assertion.Attributes

	identity := &ValidatedIdentity{
		NameID:        assertion.NameID,
		FirstName:     attrs.First(mapping.FirstName),
		LastName:      attrs.First(mapping.LastName),
		DisplayName:   attrs.First(mapping.DisplayName),
		RawAttributes: attrs,
	}

	identity.Email = attrs.First(mapping.Email)
	if identity.Email == "" && nameIDIsEmail(assertion, cfg) {
		identity.Email = assertion.NameID
	}
	if identity.Email == "" {
		return nil, &MappingError{Code: "missing-email"}
	}

	if identity.DisplayName == "" && identity.FirstName != "" && identity.LastName != "" {
		identity.DisplayName = identity.FirstName + " " + identity.LastName
	}

	if mapping.Groups != "" {
		identity.Groups = attrs[mapping.Groups]
	}

	identity.Role = resolveRole(identity.Groups, attrs[mapping.Role], cfg.RoleMapping)

	identity.Extra = make(Attributes)
	claimed := map[string]bool{
		mapping.Email:       true,
		mapping.FirstName:   true,
		mapping.LastName:    true,
		mapping.DisplayName: true,
		mapping.Groups:      true,
		mapping.Role:        true,
	}
	for name, values := range attrs {
		if !claimed[name] {
			identity.Extra[name] = values
		}
	}

	return identity, nil
}

// resolveRole maps each raw group/role value through the configured role
// mapping. Multiple matches resolve to the highest-privilege role; no match
// defaults to viewer.
func resolveRole(groups, roleValues []string, mapping map[string]Role) Role {
	resolved := RoleViewer
	matched := false

	for _, raw := range append(append([]string{}, groups...), roleValues...) {
		role, ok := mapping[raw]
		if !ok {
			continue
		}
		if !matched {
			resolved = role
			matched = true
			continue
		}
		resolved = HigherPrivilege(resolved, role)
	}

	return resolved
}

func nameIDIsEmail(assertion *SAMLAssertion, cfg *IdentityProviderConfig) bool {
	if assertion.NameID == "" {
		return false
	}
	return cfg.NameIDFormat == NameIDFormatEmail || assertion.NameIDFormat == NameIDFormatEmail
}
