// Package email defines the message and document model shared by the
// ingress transports and the delivery pipeline.
package email

// InboundMessage is an email received for delivery to a device. It is never
// persisted.
type InboundMessage struct {
	// From and To are the raw header values; they are parsed and validated
	// by the address resolver.
	From string
	To   string

	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment

	// Manifest maps a part's field name to its declared filename. A nil
	// Manifest means none was supplied and every attachment is a candidate.
	Manifest map[string]string
}

// Attachment is a raw part received with a message.
type Attachment struct {
	// Field is the name the part was submitted under (e.g. "attachment1").
	// Empty for parts extracted from a MIME message.
	Field       string
	Filename    string
	ContentType string
	Content     []byte
}

// Listed reports whether att is declared by the message's manifest. Every
// attachment is listed when no manifest was supplied.
func (m *InboundMessage) Listed(att Attachment) bool {
	if m.Manifest == nil {
		return true
	}
	if att.Field != "" {
		declared, ok := m.Manifest[att.Field]
		return ok && declared == att.Filename
	}
	for _, declared := range m.Manifest {
		if declared == att.Filename {
			return true
		}
	}
	return false
}
