package gateway

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path"
	"time"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/model"
)

// mailHeaderOverhead is the byte allowance reserved for the envelope
// headers and MIME boundaries when budgeting a message against the channel
// size ceiling.
const mailHeaderOverhead = 1024

// CertifiedMailBaseSize estimates the byte size of a composed message before
// attachments. Size-policy decisions subtract this from the channel ceiling
// to get the attachment budget.
func CertifiedMailBaseSize(p *model.PECPayload) int64 {
	return int64(len(p.Subject)+len(p.MessageText)) + mailHeaderOverhead
}

// ComposeCertifiedMail renders the request into a full RFC 5322 message:
// headers, the text body, and one base64 part per resolved attachment.
func ComposeCertifiedMail(messageID string, p *model.PECPayload, attachments []attachment.Resolved) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", p.SenderAddress)
	fmt.Fprintf(&buf, "To: %s\r\n", p.ReceiverAddress)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", p.Subject))
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary())
	buf.WriteString("\r\n")

	bodyType := p.ContentType
	if bodyType == "" {
		bodyType = "text/plain; charset=utf-8"
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {bodyType},
	})
	if err != nil {
		return nil, fmt.Errorf("compose body part: %w", err)
	}
	if _, err := part.Write([]byte(p.MessageText)); err != nil {
		return nil, fmt.Errorf("write body part: %w", err)
	}

	for _, att := range attachments {
		name := path.Base(att.Ref)
		header := textproto.MIMEHeader{
			"Content-Type":              {att.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
		}
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("compose attachment %s: %w", att.Ref, err)
		}
		enc := base64.NewEncoder(base64.StdEncoding, part)
		if _, err := enc.Write(att.Content); err != nil {
			return nil, fmt.Errorf("encode attachment %s: %w", att.Ref, err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode attachment %s: %w", att.Ref, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}
	return buf.Bytes(), nil
}
