// Package sheets keeps the human-facing hire log in a Google spreadsheet.
//
// One row per confirmed offer, columns A through P. Rows are appended at
// confirm time and rewritten in place when onboarding data arrives.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
	"github.com/Dan-Hightower/hirebot/pkg/retry"
)

const (
	service          = "sheets"
	valueInputOption = "RAW"
)

// Config configures Store.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	// Endpoint overrides the API base URL and disables authentication.
	Endpoint    string
	CallTimeout time.Duration
	Retry       retry.Policy
}

// Store appends and updates offer rows.
type Store struct {
	svc   *gsheets.Service
	cfg   Config
	log   logger.Logger
	clock func() time.Time
}

// New connects to the Sheets API.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	const op = "sheets.new"
	if cfg.SpreadsheetID == "" {
		return nil, failure.Newf(op, failure.ErrValidation, "spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Sheet1"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Once()
	}

	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, failure.Newf(op, failure.ErrValidation, "sheets credentials are required")
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrPermanent, err)
	}
	return &Store{svc: svc, cfg: cfg, log: log, clock: time.Now}, nil
}

// Append adds rec as a new row and returns its row number.
func (s *Store) Append(ctx context.Context, rec offer.Record) (int, error) {
	const op = "sheets.append"
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	vr := &gsheets.ValueRange{Values: [][]interface{}{toRow(rec)}}

	var row int
	err := s.do(ctx, "append", func(ctx context.Context) error {
		resp, err := s.svc.Spreadsheets.Values.
			Append(s.cfg.SpreadsheetID, rangeFor(s.cfg.SheetName, firstColumn+":"+lastColumn), vr).
			ValueInputOption(valueInputOption).
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		if err != nil {
			return classify(op, err)
		}
		if resp.Updates == nil {
			return failure.Newf(op, failure.ErrPermanent, "append returned no update range")
		}
		n, ok := rowFromRange(resp.Updates.UpdatedRange)
		if !ok {
			return failure.Newf(op, failure.ErrPermanent, "unexpected update range %q", resp.Updates.UpdatedRange)
		}
		row = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "row appended", logger.String("offer_id", rec.OfferID), logger.Int("row", row))
	return row, nil
}

// FindLastRowByHandle returns the most recent row whose handle column
// refers to handle.
func (s *Store) FindLastRowByHandle(ctx context.Context, handle string) (int, error) {
	const op = "sheets.find_last_row"
	var row int
	err := s.do(ctx, "find", func(ctx context.Context) error {
		resp, err := s.svc.Spreadsheets.Values.
			Get(s.cfg.SpreadsheetID, rangeFor(s.cfg.SheetName, handleColumn+":"+handleColumn)).
			Context(ctx).Do()
		if err != nil {
			return classify(op, err)
		}
		for i := len(resp.Values) - 1; i >= 0; i-- {
			if len(resp.Values[i]) == 0 {
				continue
			}
			if sameHandle(fmt.Sprint(resp.Values[i][0]), handle) {
				row = i + 1
				return nil
			}
		}
		return failure.Newf(op, failure.ErrNotFound, "no row for handle %q", handle)
	})
	return row, err
}

// UpdateRow rewrites row with rec.
func (s *Store) UpdateRow(ctx context.Context, row int, rec offer.Record) error {
	const op = "sheets.update_row"
	if row < 2 {
		return failure.Newf(op, failure.ErrValidation, "row %d is not a data row", row)
	}
	vr := &gsheets.ValueRange{Values: [][]interface{}{toRow(rec)}}
	err := s.do(ctx, "update", func(ctx context.Context) error {
		_, err := s.svc.Spreadsheets.Values.
			Update(s.cfg.SpreadsheetID, rowRange(s.cfg.SheetName, row), vr).
			ValueInputOption(valueInputOption).
			Context(ctx).Do()
		return classify(op, err)
	})
	if err != nil {
		return err
	}
	s.log.Info(ctx, "row updated", logger.String("offer_id", rec.OfferID), logger.Int("row", row))
	return nil
}

// Check reads the spreadsheet title to prove access, then verifies that
// row 1 of the sheet holds Header.
func (s *Store) Check(ctx context.Context) (string, error) {
	const op = "sheets.check"
	var title string
	err := s.do(ctx, "check", func(ctx context.Context) error {
		ss, err := s.svc.Spreadsheets.Get(s.cfg.SpreadsheetID).Fields("properties.title").Context(ctx).Do()
		if err != nil {
			return classify(op, err)
		}
		if ss.Properties != nil {
			title = ss.Properties.Title
		}
		return nil
	})
	if err != nil {
		return title, err
	}

	var first []interface{}
	err = s.do(ctx, "check_header", func(ctx context.Context) error {
		resp, err := s.svc.Spreadsheets.Values.
			Get(s.cfg.SpreadsheetID, rowRange(s.cfg.SheetName, 1)).
			Context(ctx).Do()
		if err != nil {
			return classify(op, err)
		}
		if len(resp.Values) > 0 {
			first = resp.Values[0]
		}
		return nil
	})
	if err != nil {
		return title, err
	}
	return title, checkHeader(first)
}

func (s *Store) do(ctx context.Context, name string, call func(ctx context.Context) error) error {
	start := time.Now()
	policy := s.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.RecordRetry(service)
		s.log.Warn(ctx, "retrying sheets call", logger.String("op", name), logger.Int("attempt", attempt), logger.Duration("wait", wait), logger.Error(err))
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		callCtx := ctx
		if s.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
			defer cancel()
		}
		return call(callCtx)
	})
	metrics.ObserveOutbound(service, name, failure.Label(err), time.Since(start))
	return err
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return failure.WrapKind(op, failure.ErrNotFound, err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError:
			return failure.WrapKind(op, failure.ErrTransient, err)
		default:
			return failure.WrapKind(op, failure.ErrPermanent, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return failure.WrapKind(op, failure.ErrTransient, err)
	}
	return failure.WrapKind(op, failure.ErrPermanent, err)
}
