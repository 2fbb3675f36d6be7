package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/shelfsync/internal/domain/model"
	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// ExportConfig tunes the destination side of an export run.
type ExportConfig struct {
	// FallbackAPIKey is used when a connection has neither a shared key nor
	// its own destination key.
	FallbackAPIKey string
	WriteDelay     time.Duration
	WriteRetry     RetryPolicy
	RunTimeout     time.Duration
}

// ExportResult describes a finished export run.
type ExportResult struct {
	DestinationURL string
	TableID        string
	Written        int
	Output         string
}

// RunError is a failed export run. Batches written before the failure stay in
// the destination; Written counts them.
type RunError struct {
	Err     error
	Written int
	Output  string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("export failed after %d rows: %v", e.Written, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ExportService copies filtered catalog items into a new destination table
// per run.
type ExportService struct {
	reader   catalogReader
	vault    *VaultService
	dest     driven.Destination
	recorder driven.Recorder
	cfg      ExportConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewExportService creates an ExportService. recorder and logger may be nil.
func NewExportService(
	conns driven.ConnectionStore,
	tokens *TokenService,
	fetcher *Fetcher,
	vault *VaultService,
	dest driven.Destination,
	recorder driven.Recorder,
	cfg ExportConfig,
	logger *slog.Logger,
) *ExportService {
	if recorder == nil {
		recorder = driven.NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportService{
		reader:   catalogReader{conns: conns, tokens: tokens, fetcher: fetcher},
		vault:    vault,
		dest:     dest,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one export. On failure the returned error is a *RunError and
// the result still carries the partial count and diagnostics.
func (s *ExportService) Run(ctx context.Context, req model.ExportRequest) (ExportResult, error) {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	logger, tail := newRunLogger(s.logger)
	start := time.Now()

	var written int
	result, err := s.run(ctx, req, logger, &written)
	result.Written = written

	if err != nil {
		kind := model.KindOf(err)
		s.recorder.RunFinished(string(kind))
		logger.Error("export failed", "kind", kind, "written", written, "error", err)
		result.Output = tail.String()
		return result, &RunError{Err: err, Written: written, Output: result.Output}
	}

	s.recorder.RunFinished("ok")
	logger.Info("export finished", "written", written, "duration", time.Since(start).Round(time.Millisecond))
	result.Output = tail.String()
	return result, nil
}

func (s *ExportService) run(ctx context.Context, req model.ExportRequest, logger *slog.Logger, written *int) (ExportResult, error) {
	conn, sess, err := s.reader.open(ctx, req.ConnectionID)
	if err != nil {
		return ExportResult{}, err
	}
	logger.Info("export started", "connection", conn.ID, "category", req.CategoryID)

	apiKey, err := s.credential(ctx, conn)
	if err != nil {
		return ExportResult{}, err
	}

	allTitle := conn.DestinationTable
	if allTitle == "" {
		allTitle = allCategoriesTitle
	}
	vendors, title, err := s.reader.lookups(ctx, sess, req, allTitle)
	if err != nil {
		return ExportResult{}, err
	}
	logger.Info("lookups loaded", "vendors", len(vendors), "category", title)

	fields := SelectFields(conn.Fields)
	tableName := fmt.Sprintf("%s (%s)", title, s.now().Format("2006-01-02 15.04"))
	tableID, err := s.createTable(ctx, apiKey, conn.DestinationBaseID, tableName, fields)
	if err != nil {
		return ExportResult{}, err
	}
	result := ExportResult{
		DestinationURL: s.dest.TableURL(conn.DestinationBaseID, tableID),
		TableID:        tableID,
	}
	logger.Info("table created", "table", tableName, "columns", len(fields))

	shopID := req.ListingFilters[model.FilterShopID]
	size := s.dest.MaxBatchSize()
	batch := make([]driven.Record, 0, size)
	batches, scanned := 0, 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if batches > 0 {
			if err := sleepCtx(ctx, s.cfg.WriteDelay); err != nil {
				return err
			}
		}
		err := s.writeBatch(ctx, driven.RecordBatch{
			APIKey:  apiKey,
			BaseID:  conn.DestinationBaseID,
			TableID: tableID,
			Records: batch,
		})
		if err != nil {
			return err
		}
		batches++
		*written += len(batch)
		s.recorder.RowsWritten(len(batch))
		logger.Info("batch written", "rows", len(batch), "total", *written)
		batch = make([]driven.Record, 0, size)
		return nil
	}

	for item, err := range s.reader.fetcher.Items(ctx, sess, categoryFilter(req), true) {
		if err != nil {
			return result, err
		}
		scanned++
		vendor := vendors[item.VendorID]
		if !req.ListingFilters.MatchItem(item, vendor) {
			continue
		}
		batch = append(batch, NewRow(item, vendor, title, shopID).RecordFor(fields))
		if len(batch) == size {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	logger.Info("catalog scanned", "items", scanned, "matched", *written)
	return result, nil
}

// credential picks the destination key: an unlocked shared key first, then
// the connection's own key, then the server fallback.
func (s *ExportService) credential(ctx context.Context, conn *model.Connection) (string, error) {
	if conn.SharedKeyID != "" {
		key, err := s.vault.Credential(ctx, conn.SharedKeyID)
		switch {
		case err == nil && key != "":
			return key, nil
		case err != nil && !errors.Is(err, driven.ErrSharedKeyNotFound):
			return "", err
		}
	}
	if conn.DestinationAPIKey != "" {
		return conn.DestinationAPIKey, nil
	}
	if s.cfg.FallbackAPIKey != "" {
		return s.cfg.FallbackAPIKey, nil
	}
	return "", model.ErrNoDestinationCredential
}

func (s *ExportService) createTable(ctx context.Context, apiKey, baseID, name string, fields []driven.FieldSpec) (string, error) {
	var tableID string
	err := retry(ctx, s.cfg.WriteRetry, "destination_table", s.recorder, func() error {
		id, err := s.dest.CreateTable(ctx, driven.TableSpec{
			APIKey:      apiKey,
			BaseID:      baseID,
			Name:        name,
			Description: "Catalog export created " + s.now().UTC().Format(time.RFC3339),
			Fields:      fields,
		})
		if err != nil {
			return classifyStatus(ctx, err, destinationRejected)
		}
		tableID = id
		return nil
	})
	return tableID, exhaustedWrite(err)
}

func (s *ExportService) writeBatch(ctx context.Context, batch driven.RecordBatch) error {
	err := retry(ctx, s.cfg.WriteRetry, "destination_records", s.recorder, func() error {
		if err := s.dest.CreateRecords(ctx, batch); err != nil {
			return classifyStatus(ctx, err, destinationRejected)
		}
		return nil
	})
	return exhaustedWrite(err)
}

func destinationRejected(err error) error {
	return fmt.Errorf("%w: %w", model.ErrDestinationWrite, err)
}

func exhaustedWrite(err error) error {
	var re *retryableError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: retries exhausted: %w", model.ErrDestinationWrite, re.err)
	}
	return err
}
