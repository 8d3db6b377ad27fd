package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// archiveModTime is stamped on every entry so identical input produces
// identical bytes.
var archiveModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Bundle is everything packaged into one export archive. Collections maps an
// archive file stem to its redacted records.
type Bundle struct {
	Identity    map[string]any
	Collections map[string][]map[string]any
	ScoreCards  []ScoreCard
	MediaLinks  []MediaLink
}

// ArchiveEntry is one file inside an export archive.
type ArchiveEntry struct {
	Name string
	Data []byte
}

// ObjectPath derives the storage path <env>/<yyyy>/<mm>/<requestId>.zip.
func ObjectPath(environment string, at time.Time, requestID string) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s.zip", environment, at.Year(), int(at.Month()), requestID)
}

// Entries lays out the archive files in their fixed order. Optional
// collections are only included when they hold records.
func (b Bundle) Entries(collections []Collection) ([]ArchiveEntry, error) {
	identity := b.Identity
	if identity == nil {
		identity = map[string]any{}
	}
	identityJSON, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	entries := []ArchiveEntry{{Name: "identity.json", Data: identityJSON}}

	appendLines := func(name string, items any) error {
		data, err := jsonLines(items)
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		entries = append(entries, ArchiveEntry{Name: name, Data: data})
		return nil
	}

	for _, c := range collections {
		if c.Optional {
			continue
		}
		if err := appendLines(c.Name+".jsonl", b.Collections[c.Name]); err != nil {
			return nil, err
		}
	}
	if err := appendLines("ai_scorecard.jsonl", b.ScoreCards); err != nil {
		return nil, err
	}
	if err := appendLines("media_links.jsonl", b.MediaLinks); err != nil {
		return nil, err
	}
	for _, c := range collections {
		if !c.Optional || len(b.Collections[c.Name]) == 0 {
			continue
		}
		if err := appendLines(c.Name+".jsonl", b.Collections[c.Name]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// WriteArchive deflates entries into a zip with fixed timestamps.
func WriteArchive(entries []ArchiveEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, entry := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entry.Name,
			Method:   zip.Deflate,
			Modified: archiveModTime,
		})
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("write %s: %w", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// jsonLines renders one JSON document per line. Maps serialize with sorted
// keys, which keeps every line canonical.
func jsonLines(items any) ([]byte, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, row := range rows {
		var compact bytes.Buffer
		if err := json.Compact(&compact, row); err != nil {
			return nil, err
		}
		buf.Write(compact.Bytes())
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
