// Package streamer implements the Record Streamer (C6): given a record and
// optionally a convertTo MIME, returns a byte stream with appropriate
// Content-Type/Content-Disposition, dispatching by record type and source
// the way §4.4 specifies. Grounded on connectors/gmail's stable attachment
// ID scheme and sibling-message fallback, and on connector.Driver.StreamRecord
// for the generic-file delegate path.
package streamer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
)

// ConvertTimeout is the hard ceiling on an external PDF conversion (§4.4):
// terminate at this, then ConvertGrace before a hard kill.
const (
	ConvertTimeout = 30 * time.Second
	ConvertGrace   = 5 * time.Second
)

// Converter is the external headless-conversion collaborator (e.g. a
// LibreOffice/Gotenberg sidecar). Convert must respect ctx cancellation.
type Converter interface {
	Convert(ctx context.Context, in io.Reader, sourceMimeType string) (io.ReadCloser, error)
}

// Parser renders a Google-native Drive file (Doc/Sheet/Slide) into structured
// JSON instead of raw bytes (§4.4 "Google Drive file ... route to the
// corresponding parser").
type Parser interface {
	Parse(ctx context.Context, externalID, mimeType string) ([]byte, error)
}

// DriveClient is the subset of a Drive-capable connector needed for the
// Gmail-attachment-to-Drive fallback path.
type DriveClient interface {
	GetMedia(ctx context.Context, externalID string) (io.ReadCloser, string, error)
}

var googleNativeMimeTypes = map[string]bool{
	"application/vnd.google-apps.document":     true,
	"application/vnd.google-apps.spreadsheet":  true,
	"application/vnd.google-apps.presentation": true,
}

// Streamer dispatches StreamRecord calls per §4.4.
type Streamer struct {
	Drivers   map[string]connector.Driver // connector name -> driver
	Parsers   map[string]Parser           // mime type -> parser
	Converter Converter
	Drive     DriveClient // set only when a Drive connector instance backs Gmail's fallback
}

// Stream returns a byte stream for record, applying the conversion and
// Google-native/Gmail-attachment special cases of §4.4.
func (s *Streamer) Stream(ctx context.Context, record *model.Record, convertTo *string) (*connector.StreamingResponse, error) {
	if p, ok := s.Parsers[record.MimeType]; ok && googleNativeMimeTypes[record.MimeType] {
		body, err := p.Parse(ctx, record.ExternalID, record.MimeType)
		if err != nil {
			return nil, fmt.Errorf("streamer: parse %s: %w", record.ExternalID, err)
		}
		return &connector.StreamingResponse{
			Body:        io.NopCloser(strings.NewReader(string(body))),
			ContentType: "application/json",
			SizeBytes:   int64(len(body)),
		}, nil
	}

	if record.RecordType == model.RecordTypeMail && isGmailAttachmentID(record.ExternalID) {
		resp, err := s.streamGmailAttachment(ctx, record)
		if err != nil && s.Drive != nil {
			if body, mime, driveErr := s.Drive.GetMedia(ctx, record.ExternalID); driveErr == nil {
				resp = &connector.StreamingResponse{Body: body, ContentType: mime}
				err = nil
			}
		}
		if err != nil {
			return nil, err
		}
		return s.maybeConvert(ctx, resp, convertTo)
	}

	driver, ok := s.Drivers[record.ConnectorName]
	if !ok {
		return nil, fmt.Errorf("streamer: no driver registered for connector %q", record.ConnectorName)
	}
	resp, err := driver.StreamRecord(ctx, record, convertTo)
	if err != nil {
		return nil, err
	}
	return s.maybeConvert(ctx, resp, convertTo)
}

// isGmailAttachmentID recognizes the {messageId}_{partId} scheme minted by
// connectors/gmail.StableAttachmentID.
func isGmailAttachmentID(externalID string) bool {
	return strings.Contains(externalID, "_")
}

func (s *Streamer) streamGmailAttachment(ctx context.Context, record *model.Record) (*connector.StreamingResponse, error) {
	driver, ok := s.Drivers["GMAIL"]
	if !ok {
		return nil, fmt.Errorf("streamer: no gmail driver registered")
	}
	resp, err := driver.StreamRecord(ctx, record, nil)
	if err != nil {
		return nil, fmt.Errorf("streamer: gmail attachment %s: %w", record.ExternalID, err)
	}
	return resp, nil
}

// maybeConvert runs the external converter under the 30s+5s-grace deadline
// when convertTo requests PDF and the record isn't already a PDF. Chunked
// streaming is preserved: Convert receives resp.Body directly, never a
// fully-buffered []byte.
func (s *Streamer) maybeConvert(ctx context.Context, resp *connector.StreamingResponse, convertTo *string) (*connector.StreamingResponse, error) {
	if convertTo == nil || *convertTo == "" || *convertTo == resp.ContentType {
		return resp, nil
	}
	if s.Converter == nil {
		return resp, nil
	}

	convertCtx, cancel := context.WithTimeout(ctx, ConvertTimeout)
	defer cancel()

	type result struct {
		out io.ReadCloser
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.Converter.Convert(convertCtx, resp.Body, resp.ContentType)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		resp.Body.Close()
		if r.err != nil {
			return nil, fmt.Errorf("streamer: convert to %s: %w", *convertTo, r.err)
		}
		return &connector.StreamingResponse{Body: r.out, ContentType: *convertTo}, nil
	case <-convertCtx.Done():
		cancel()
		select {
		case r := <-done:
			resp.Body.Close()
			if r.out != nil {
				r.out.Close()
			}
			_ = r.err
		case <-time.After(ConvertGrace):
		}
		return nil, fmt.Errorf("streamer: convert to %s: %w", *convertTo, convertCtx.Err())
	}
}

// TempFileConverter materializes the input to a temp file before invoking an
// external CLI converter (§4.4: "materialize bytes to a temp file"), and
// cleans the temp file up afterward regardless of outcome.
type TempFileConverter struct {
	Invoke func(ctx context.Context, inPath string) (outPath string, err error)
}

func (c *TempFileConverter) Convert(ctx context.Context, in io.Reader, sourceMimeType string) (io.ReadCloser, error) {
	tmp, err := os.CreateTemp("", "streamer-convert-*")
	if err != nil {
		return nil, fmt.Errorf("streamer: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("streamer: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("streamer: close temp file: %w", err)
	}

	outPath, err := c.Invoke(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}
	defer os.Remove(outPath)

	out, err := os.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("streamer: open converted file: %w", err)
	}
	data, err := io.ReadAll(out)
	out.Close()
	if err != nil {
		return nil, fmt.Errorf("streamer: read converted file: %w", err)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}
