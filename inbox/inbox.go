// Package inbox collects email messages and attachments from an IMAP mailbox
// and hands them to the pipeline in the same shapes the filesystem source
// produces: messages as records, attachments as file items with their content
// already materialized.
package inbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/sehnem/verified-sources/extract"
	"github.com/sehnem/verified-sources/source"
	"github.com/sehnem/verified-sources/utils"
)

// log a convenience wrapper to shorten code lines
var log = utils.Logger

// DefaultFolder is the mailbox folder collected when none is configured.
const DefaultFolder = "INBOX"

// InboxSource reads a mailbox over IMAP. Every fetch opens its own
// short-lived connection, so the source holds no state between runs.
type InboxSource struct {
	// Host and Port address the IMAP server (TLS).
	Host string
	Port int

	// Username and Password authenticate the mailbox.
	Username string
	Password string

	// Folder the mailbox folder to collect, DefaultFolder when empty.
	Folder string

	// FilterEmails keeps only messages whose sender matches one of the
	// addresses; empty keeps all.
	FilterEmails []string

	// FilterMimeTypes keeps only attachments of the listed MIME types; empty
	// keeps all.
	FilterMimeTypes []string

	// Since keeps only messages delivered after the given date.
	Since time.Time
}

func (s *InboxSource) folder() string {
	if s.Folder == "" {
		return DefaultFolder
	}
	return s.Folder
}

// Messages fetches the matching messages as record batches of chunkSize.
func (s *InboxSource) Messages(chunkSize int) ([][]extract.Record, error) {
	if chunkSize <= 0 {
		chunkSize = source.DefaultChunkSize
	}
	var records []extract.Record
	err := s.fetch(func(msg *imap.Message, body *parsedMessage) error {
		records = append(records, messageRecord(msg, body))
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("collected inbox messages", zap.Int("count", len(records)))
	return chunkRecords(records, chunkSize), nil
}

// Attachments fetches the matching attachments as file handle batches of
// chunkSize. The content is materialized into each item, so the handles never
// reach back to the mailbox.
func (s *InboxSource) Attachments(chunkSize int) ([][]*source.FileHandle, error) {
	if chunkSize <= 0 {
		chunkSize = source.DefaultChunkSize
	}
	var handles []*source.FileHandle
	err := s.fetch(func(msg *imap.Message, body *parsedMessage) error {
		for _, attachment := range body.attachments {
			if !allowedMimeType(attachment.mimeType, s.FilterMimeTypes) {
				continue
			}
			item := &source.FileItem{
				FileName: attachment.filename,
				FileURL: fmt.Sprintf("imap://%s@%s/%s/%d/%s",
					s.Username, s.Host, s.folder(), msg.Uid, attachment.filename),
				MimeType:         attachment.mimeType,
				ModificationDate: messageDate(msg),
				SizeInBytes:      int64(len(attachment.content)),
			}
			if err := item.SetContent(attachment.content); err != nil {
				return err
			}
			handles = append(handles, source.NewFileHandle(item, nil))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("collected inbox attachments", zap.Int("count", len(handles)))
	return chunkHandles(handles, chunkSize), nil
}

// fetch connects, searches the folder and streams every matching message
// through the callback.
func (s *InboxSource) fetch(handle func(msg *imap.Message, body *parsedMessage) error) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", addr, err)
	}
	defer func(c *client.Client) {
		if err := c.Logout(); err != nil {
			log.Error("failed to log out", zap.String("host", s.Host), zap.Error(err))
		}
	}(c)

	if err := c.Login(s.Username, s.Password); err != nil {
		return fmt.Errorf("failed to log in to %q: %w", addr, err)
	}
	if _, err := c.Select(s.folder(), true); err != nil {
		return fmt.Errorf("failed to select folder %q: %w", s.folder(), err)
	}

	criteria := imap.NewSearchCriteria()
	if !s.Since.IsZero() {
		criteria.Since = s.Since
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("failed to search folder %q: %w", s.folder(), err)
	}
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	for msg := range messages {
		if !matchesSender(msg.Envelope, s.FilterEmails) {
			continue
		}
		literal := msg.GetBody(section)
		if literal == nil {
			continue
		}
		body, err := parseMessage(literal)
		if err != nil {
			// drain the channel before surfacing the failure
			for range messages {
			}
			<-done
			return fmt.Errorf("parsing message %d: %w", msg.Uid, err)
		}
		if err := handle(msg, body); err != nil {
			for range messages {
			}
			<-done
			return err
		}
	}
	if err := <-done; err != nil {
		return fmt.Errorf("failed to fetch from folder %q: %w", s.folder(), err)
	}
	return nil
}

// attachmentPart is one decoded attachment of a message.
type attachmentPart struct {
	filename string
	mimeType string
	content  []byte
}

// parsedMessage is the decoded body of one message.
type parsedMessage struct {
	text        string
	attachments []attachmentPart
}

// parseMessage decodes a raw MIME message into its inline text and attachments.
// Attachment MIME types are sniffed from the content when the part declares none.
func parseMessage(r io.Reader) (*parsedMessage, error) {
	reader, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse the message: %w", err)
	}

	ret := &parsedMessage{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read a message part: %w", err)
		}
		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read the message body: %w", err)
			}
			if ret.text == "" {
				ret.text = string(content)
			}
		case *mail.AttachmentHeader:
			filename, err := header.Filename()
			if err != nil || filename == "" {
				continue
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment %q: %w", filename, err)
			}
			declared, _, _ := header.ContentType()
			if declared == "" || declared == "application/octet-stream" {
				declared = mimetype.Detect(content).String()
			}
			ret.attachments = append(ret.attachments, attachmentPart{
				filename: filename,
				mimeType: declared,
				content:  content,
			})
		}
	}
	return ret, nil
}

// messageRecord converts a fetched message into the mapping shape loaded into
// the destination. The merge key of the messages listing is message_uid.
func messageRecord(msg *imap.Message, body *parsedMessage) extract.Record {
	record := extract.Record{
		"message_uid": int64(msg.Uid),
		"date":        messageDate(msg),
		"body":        body.text,
	}
	if msg.Envelope != nil {
		record["message_id"] = msg.Envelope.MessageId
		record["subject"] = msg.Envelope.Subject
		record["from_email"] = senderAddress(msg.Envelope)
	}
	return record
}

func messageDate(msg *imap.Message) time.Time {
	if msg.Envelope != nil && !msg.Envelope.Date.IsZero() {
		return msg.Envelope.Date
	}
	return msg.InternalDate
}

// senderAddress returns the address of the first sender of the envelope.
func senderAddress(envelope *imap.Envelope) string {
	for _, address := range envelope.From {
		return strings.ToLower(address.Address())
	}
	return ""
}

// matchesSender reports whether the envelope's sender is in the filter list.
// An empty filter matches every sender.
func matchesSender(envelope *imap.Envelope, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	if envelope == nil {
		return false
	}
	sender := senderAddress(envelope)
	for _, filter := range filters {
		if sender == strings.ToLower(filter) {
			return true
		}
	}
	return false
}

// allowedMimeType reports whether the attachment's MIME type is in the filter
// list. An empty filter allows every type.
func allowedMimeType(mimeType string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, filter := range filters {
		if strings.EqualFold(mimeType, filter) {
			return true
		}
	}
	return false
}

// chunkRecords splits the records into batches of chunkSize, the last one
// possibly partial.
func chunkRecords(records []extract.Record, chunkSize int) [][]extract.Record {
	var ret [][]extract.Record
	for len(records) > 0 {
		n := chunkSize
		if n > len(records) {
			n = len(records)
		}
		ret = append(ret, records[:n])
		records = records[n:]
	}
	return ret
}

// chunkHandles splits the handles into batches of chunkSize, the last one
// possibly partial.
func chunkHandles(handles []*source.FileHandle, chunkSize int) [][]*source.FileHandle {
	var ret [][]*source.FileHandle
	for len(handles) > 0 {
		n := chunkSize
		if n > len(handles) {
			n = len(handles)
		}
		ret = append(ret, handles[:n])
		handles = handles[n:]
	}
	return ret
}
