// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package export

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/socialscope/scopeboard/internal/models"
)

// Archive entry names inside an export zip.
const (
	entryMetadata = "participant_metadata.json"
	entryCheckins = "ema_responses.json"
	entryAlerts   = "safety_alerts.json"
	entryEvents   = "events.json"

	screenshotPrefix = "screenshots/"
)

// Archive wraps a zip writer with the export entry conventions: JSON
// documents are deflated, screenshot binaries are stored uncompressed since
// image bytes gain nothing from further compression.
type Archive struct {
	zw *zip.Writer
}

// NewArchive returns an archive writing to w. The caller owns w.
func NewArchive(w io.Writer) *Archive {
	return &Archive{zw: zip.NewWriter(w)}
}

// AddJSON writes v as an indented JSON entry.
func (a *Archive) AddJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	f, err := a.zw.Create(name)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

// AddStored writes raw bytes as an uncompressed entry.
func (a *Archive) AddStored(name string, data []byte) error {
	f, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:   name,
		Method: zip.Store,
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

// Close flushes the zip central directory.
func (a *Archive) Close() error {
	return a.zw.Close()
}

// screenshotEntryName builds the deterministic archive path for one fetched
// screenshot: a filesystem-safe timestamp plus a short event-id suffix.
// idx disambiguates attachments with no usable timestamp.
func screenshotEntryName(ts models.FlexTime, eventID, ext string, idx int) string {
	var stamp string
	if ts.Valid() {
		stamp = strings.NewReplacer(":", "-", "T", "_").Replace(ts.Time().UTC().Format("2006-01-02T15:04:05"))
	} else {
		stamp = fmt.Sprintf("img_%d", idx)
	}

	short := eventID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s%s_%s%s", screenshotPrefix, stamp, short, ext)
}

// exportFilename builds the user-facing download filename:
// socialscope_export_{participant}_L{level}_{tag}[_{start}_to_{end}].zip
func exportFilename(participantID string, level models.ExportLevel, startDate, endDate string) string {
	name := fmt.Sprintf("socialscope_export_%s_L%d_%s", participantID, level, level.Tag())
	if startDate != "" && endDate != "" {
		name += fmt.Sprintf("_%s_to_%s", startDate, endDate)
	}
	return name + ".zip"
}
