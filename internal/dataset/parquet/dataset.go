// Package parquet writes page results to a columnar Parquet file.
package parquet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// Artifact is the optional group stored for every artifact column.
type Artifact struct {
	Key    string `parquet:"key"`
	URL    string `parquet:"url"`
	Hash   string `parquet:"hash"`
	Length int64  `parquet:"length"`
}

// Row is the flattened PageResult.
type Row struct {
	RunID             string    `parquet:"run_id"`
	LoadedURL         string    `parquet:"loaded_url"`
	LoadedAt          string    `parquet:"loaded_at"`
	HTTPStatus        int32     `parquet:"http_status"`
	RawHTMLHash       string    `parquet:"raw_html_hash"`
	RawHTMLLength     int64     `parquet:"raw_html_length"`
	RawHTMLKey        *string   `parquet:"raw_html_key,optional"`
	RawHTMLURL        *string   `parquet:"raw_html_url,optional"`
	Title             *string   `parquet:"title,optional"`
	Author            *string   `parquet:"author,optional"`
	PublishedAt       *string   `parquet:"published_at,optional"`
	Description       *string   `parquet:"description,optional"`
	SiteName          *string   `parquet:"site_name,optional"`
	Lang              *string   `parquet:"lang,optional"`
	ExtractedText     *Artifact `parquet:"extracted_text,optional"`
	ExtractedJSON     *Artifact `parquet:"extracted_json,optional"`
	ExtractedMarkdown *Artifact `parquet:"extracted_markdown,optional"`
	ExtractedXML      *Artifact `parquet:"extracted_xml,optional"`
	ExtractedXMLTEI   *Artifact `parquet:"extracted_xml_tei,optional"`
}

// NewRow flattens result.
func NewRow(runID string, result crawler.PageResult) Row {
	row := Row{
		RunID:             runID,
		LoadedURL:         result.LoadedURL,
		LoadedAt:          result.LoadedAt,
		HTTPStatus:        int32(result.HTTPStatus), //nolint:gosec // HTTP status codes fit in int32
		RawHTMLHash:       result.RawHTML.Hash,
		RawHTMLLength:     int64(result.RawHTML.Length),
		Title:             result.Metadata.Title,
		Author:            result.Metadata.Author,
		PublishedAt:       result.Metadata.PublishedAt,
		Description:       result.Metadata.Description,
		SiteName:          result.Metadata.SiteName,
		Lang:              result.Metadata.Lang,
		ExtractedText:     artifact(result.ExtractedText),
		ExtractedJSON:     artifact(result.ExtractedJSON),
		ExtractedMarkdown: artifact(result.ExtractedMarkdown),
		ExtractedXML:      artifact(result.ExtractedXML),
		ExtractedXMLTEI:   artifact(result.ExtractedXMLTEI),
	}
	if result.RawHTML.Key != "" {
		key, uri := result.RawHTML.Key, result.RawHTML.URL
		row.RawHTMLKey, row.RawHTMLURL = &key, &uri
	}
	return row
}

func artifact(ref *crawler.ArtifactRef) *Artifact {
	if ref == nil {
		return nil
	}
	return &Artifact{Key: ref.Key, URL: ref.URL, Hash: ref.Hash, Length: int64(ref.Length)}
}

// Compression maps a configured codec name to a writer option.
func Compression(name string) (parquet.WriterOption, error) {
	switch name {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "none":
		return parquet.Compression(&parquet.Uncompressed), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	default:
		return nil, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

// Dataset buffers rows in one Parquet file for the lifetime of a crawl. The
// file footer is written by Close, so a crawl must close the dataset.
type Dataset struct {
	mu     sync.Mutex
	runID  string
	file   *os.File
	writer *parquet.GenericWriter[Row]
	closed bool
}

// Create truncates path and starts a new Parquet file.
func Create(path, runID, compression string) (*Dataset, error) {
	if path == "" {
		return nil, errors.New("dataset path is required")
	}
	opt, err := Compression(compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dataset directory: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet file: %w", err)
	}
	return &Dataset{
		runID:  runID,
		file:   f,
		writer: parquet.NewGenericWriter[Row](f, opt),
	}, nil
}

// Append adds one row.
func (d *Dataset) Append(_ context.Context, result crawler.PageResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("dataset is closed")
	}
	if _, err := d.writer.Write([]Row{NewRow(d.runID, result)}); err != nil {
		return fmt.Errorf("write parquet row: %w", err)
	}
	return nil
}

// Close writes the footer and closes the file.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	writerErr := d.writer.Close()
	closeErr := d.file.Close()
	if err := errors.Join(writerErr, closeErr); err != nil {
		return fmt.Errorf("close parquet dataset: %w", err)
	}
	return nil
}

// ReadAll loads every row of a Parquet dataset file.
func ReadAll(path string) ([]Row, error) {
	// #nosec G304 -- path comes from the caller.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}
	rows, err := parquet.Read[Row](f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return rows, nil
}
