package sso

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// ResponseValidator parses and fully validates an IdP SAML Response. It runs
// server-side only; everything it receives is untrusted input.
type ResponseValidator struct {
	certs *CertificateStore

	// now is a test hook; defaults to time.Now.
	now func() time.Time
}

// NewResponseValidator creates a validator backed by the certificate store.
func NewResponseValidator(certs *CertificateStore) *ResponseValidator {
	return &ResponseValidator{certs: certs, now: time.Now}
}

// Validate checks rawResponseBase64 in strict order, short-circuiting on the
// first failure: RelayState, decode/parse, status, issuer, time window,
// audience, subject, bearer confirmation, signature, then attribute
// extraction. The caller must have consumed the stored RelayState from its
// store before calling, so a replayed token can never reach here twice.
func (v *ResponseValidator) Validate(ctx context.Context, rawResponseBase64, presentedRelayState, storedRelayState string, cfg *IdentityProviderConfig) (*SAMLAssertion, error) {
	// 1. RelayState. Constant-time so the comparison leaks nothing about the
	// stored value.
	if presentedRelayState != "" || storedRelayState != "" {
		if subtle.ConstantTimeCompare([]byte(presentedRelayState), []byte(storedRelayState)) != 1 {
			return nil, &CSRFError{Reason: "relay state mismatch"}
		}
	}

	// 2. Decode and parse.
	raw, err := base64.StdEncoding.DecodeString(rawResponseBase64)
	if err != nil {
		return nil, &ProtocolError{Code: "malformed-xml", Detail: "invalid base64"}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil || doc.Root() == nil {
		return nil, &ProtocolError{Code: "malformed-xml", Detail: "unparseable document"}
	}
	response := doc.Root()
	if response.Tag != "Response" {
		return nil, &ProtocolError{Code: "malformed-xml", Detail: fmt.Sprintf("unexpected root element %q", response.Tag)}
	}

	// 3. Status.
	statusCode, statusMessage := responseStatus(response)
	if statusCode != StatusSuccess {
		return nil, &ProtocolError{Code: "idp-rejected", Detail: statusDetail(statusCode, statusMessage)}
	}

	// 4. Issuer.
	if issuer := childText(response, "Issuer"); issuer != cfg.IDPEntityID {
		return nil, &TrustError{Code: "issuer-mismatch", Detail: fmt.Sprintf("got %q, want %q", issuer, cfg.IDPEntityID)}
	}

	assertion := childElement(response, "Assertion")
	if assertion == nil {
		if childElement(response, "EncryptedAssertion") != nil {
			return nil, &ProtocolError{Code: "encrypted-assertion", Detail: "encrypted assertions are not supported"}
		}
		return nil, &ProtocolError{Code: "missing-assertion"}
	}

	now := v.now().UTC()

	// 5. Conditions window.
	var notBefore, notOnOrAfter *time.Time
	if conditions := childElement(assertion, "Conditions"); conditions != nil {
		notBefore, err = attrTime(conditions, "NotBefore")
		if err != nil {
			return nil, &ProtocolError{Code: "bad-timestamp", Detail: err.Error()}
		}
		notOnOrAfter, err = attrTime(conditions, "NotOnOrAfter")
		if err != nil {
			return nil, &ProtocolError{Code: "bad-timestamp", Detail: err.Error()}
		}

		if notBefore != nil && now.Add(cfg.ClockSkew).Before(*notBefore) {
			return nil, &TimingError{Detail: fmt.Sprintf("assertion not valid before %s", notBefore.Format(time.RFC3339))}
		}
		if notOnOrAfter != nil && !now.Add(-cfg.ClockSkew).Before(*notOnOrAfter) {
			return nil, &TimingError{Detail: fmt.Sprintf("assertion expired at %s", notOnOrAfter.Format(time.RFC3339))}
		}
	}

	// 6. Audience restriction.
	audiences := audienceValues(assertion)
	if len(audiences) > 0 && !containsString(audiences, cfg.SPEntityID) {
		return nil, &AudienceError{Audiences: audiences, Want: cfg.SPEntityID}
	}

	// 7. Subject / NameID.
	subject := childElement(assertion, "Subject")
	if subject == nil || strings.TrimSpace(childText(subject, "NameID")) == "" {
		return nil, &ProtocolError{Code: "missing-nameid"}
	}

	// 8. Bearer SubjectConfirmation. Recipient and NotOnOrAfter are
	// independent failure points.
	var recipient string
	if confirmation := childElement(subject, "SubjectConfirmation"); confirmation != nil {
		if data := childElement(confirmation, "SubjectConfirmationData"); data != nil {
			recipient = data.SelectAttrValue("Recipient", "")
			if recipient != "" && recipient != cfg.ACSURL {
				return nil, &RecipientError{Got: recipient, Want: cfg.ACSURL}
			}

			confirmationExpiry, err := attrTime(data, "NotOnOrAfter")
			if err != nil {
				return nil, &ProtocolError{Code: "bad-timestamp", Detail: err.Error()}
			}
			if confirmationExpiry != nil && !now.Add(-cfg.ClockSkew).Before(*confirmationExpiry) {
				return nil, &TimingError{Detail: fmt.Sprintf("subject confirmation expired at %s", confirmationExpiry.Format(time.RFC3339))}
			}
		}
	}

	// 9. Signature. Verified cryptographically against the configured IdP
	// certificate; presence alone is never sufficient. All values returned to
	// the caller are re-read from the validated subtree so an element outside
	// the signed region cannot smuggle data in.
	validatedAssertion, err := v.verifySignature(response, assertion, cfg)
	if err != nil {
		return nil, err
	}

	// 10. Attribute extraction from the validated assertion.
	result := &SAMLAssertion{
		Issuer:       childText(validatedAssertion, "Issuer"),
		Attributes:   extractAttributes(validatedAssertion),
		NotBefore:    notBefore,
		NotOnOrAfter: notOnOrAfter,
		Audience:     audiences,
		Recipient:    recipient,
	}
	if result.Issuer == "" {
		result.Issuer = cfg.IDPEntityID
	}

	if validatedSubject := childElement(validatedAssertion, "Subject"); validatedSubject != nil {
		if nameID := childElement(validatedSubject, "NameID"); nameID != nil {
			result.NameID = strings.TrimSpace(nameID.Text())
			result.NameIDFormat = nameID.SelectAttrValue("Format", "")
		}
	}
	if result.NameID == "" {
		return nil, &ProtocolError{Code: "missing-nameid"}
	}

	if authnStatement := childElement(validatedAssertion, "AuthnStatement"); authnStatement != nil {
		result.SessionIndex = authnStatement.SelectAttrValue("SessionIndex", "")
	}

	return result, nil
}

// verifySignature accepts either a signed Response or a signed Assertion and
// returns the validated assertion element.
func (v *ResponseValidator) verifySignature(response, assertion *etree.Element, cfg *IdentityProviderConfig) (*etree.Element, error) {
	trust, err := v.certs.TrustStore(cfg)
	if err != nil {
		return nil, err
	}
	vc := dsig.NewDefaultValidationContext(trust)

	if childElement(response, "Signature") != nil {
		validated, err := vc.Validate(response)
		if err != nil {
			return nil, &TrustError{Code: "signature", Detail: err.Error()}
		}
		validatedAssertion := childElement(validated, "Assertion")
		if validatedAssertion == nil {
			return nil, &TrustError{Code: "signature", Detail: "signed response contains no assertion"}
		}
		return validatedAssertion, nil
	}

	if childElement(assertion, "Signature") != nil {
		validated, err := vc.Validate(assertion)
		if err != nil {
			return nil, &TrustError{Code: "signature", Detail: err.Error()}
		}
		return validated, nil
	}

	return nil, &TrustError{Code: "signature", Detail: "document is not signed"}
}

// childElement returns the first direct child with the given local tag name,
// regardless of namespace prefix.
func childElement(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

func childText(el *etree.Element, tag string) string {
	if child := childElement(el, tag); child != nil {
		return strings.TrimSpace(child.Text())
	}
	return ""
}

func responseStatus(response *etree.Element) (code, message string) {
	status := childElement(response, "Status")
	if status == nil {
		return "", ""
	}
	if statusCode := childElement(status, "StatusCode"); statusCode != nil {
		code = statusCode.SelectAttrValue("Value", "")
	}
	message = childText(status, "StatusMessage")
	return code, message
}

func statusDetail(code, message string) string {
	// Strip the URN prefix for readability; the full value stays in logs via
	// the wrapped detail.
	short := code
	if idx := strings.LastIndex(code, ":"); idx >= 0 {
		short = code[idx+1:]
	}
	if message != "" {
		return fmt.Sprintf("status %s: %s", short, message)
	}
	return fmt.Sprintf("status %s", short)
}

func audienceValues(assertion *etree.Element) []string {
	conditions := childElement(assertion, "Conditions")
	if conditions == nil {
		return nil
	}

	var audiences []string
	for _, restriction := range conditions.ChildElements() {
		if restriction.Tag != "AudienceRestriction" {
			continue
		}
		for _, audience := range restriction.ChildElements() {
			if audience.Tag == "Audience" {
				if text := strings.TrimSpace(audience.Text()); text != "" {
					audiences = append(audiences, text)
				}
			}
		}
	}
	return audiences
}

func extractAttributes(assertion *etree.Element) Attributes {
	attrs := make(Attributes)
	statement := childElement(assertion, "AttributeStatement")
	if statement == nil {
		return attrs
	}

	for _, attribute := range statement.ChildElements() {
		if attribute.Tag != "Attribute" {
			continue
		}
		name := attribute.SelectAttrValue("Name", "")
		if name == "" {
			continue
		}
		for _, value := range attribute.ChildElements() {
			if value.Tag == "AttributeValue" {
				attrs[name] = append(attrs[name], strings.TrimSpace(value.Text()))
			}
		}
	}
	return attrs
}

func attrTime(el *etree.Element, name string) (*time.Time, error) {
	raw := el.SelectAttrValue(name, "")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable %s timestamp %q", name, raw)
	}
	utc := t.UTC()
	return &utc, nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
