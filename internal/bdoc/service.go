package bdoc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/chain"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
	"github.com/sumanyunandwani/AnalyzeAI/internal/quota"
)

const defaultCacheSize = 1024

// Runner executes a prompt chain; *chain.Evaluator satisfies it.
type Runner interface {
	Run(ctx context.Context, c chain.Chain, vars map[string]string) (string, error)
}

// Chains looks up chain definitions by name; *chain.Registry satisfies it.
type Chains interface {
	Get(name string) (chain.Chain, bool)
}

// Files writes the durable copies of a request's script and document.
type Files interface {
	WriteScript(business, fingerprint, script string) (string, error)
	WritePDF(data []byte) (string, error)
}

// RenderFunc turns the final chain reply into document bytes.
type RenderFunc func(html string) ([]byte, error)

type Deps struct {
	Store  Store
	Ledger *quota.Ledger
	Runner Runner
	Chains Chains
	Files  Files
	Render RenderFunc
	// Locker is optional; without it concurrent requests with the same
	// fingerprint may both run the chain.
	Locker    Locker
	CacheSize int
}

type Request struct {
	Tag      string
	Script   string
	Business string
	Identity identity.Identity
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Script) == "" {
		return missingKey("script")
	}
	if strings.TrimSpace(r.Business) == "" {
		return missingKey("business")
	}
	return r.Identity.Validate()
}

type Service struct {
	store  Store
	ledger *quota.Ledger
	runner Runner
	chains Chains
	files  Files
	render RenderFunc
	locker Locker
	recent *lru.Cache[string, ArtifactRef]
}

func NewService(d Deps) (*Service, error) {
	if d.Store == nil || d.Ledger == nil || d.Runner == nil || d.Chains == nil || d.Files == nil || d.Render == nil {
		return nil, errors.New("bdoc: incomplete dependencies")
	}
	size := d.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	recent, err := lru.New[string, ArtifactRef](size)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:  d.Store,
		ledger: d.Ledger,
		runner: d.Runner,
		chains: d.Chains,
		files:  d.Files,
		render: d.Render,
		locker: d.Locker,
		recent: recent,
	}, nil
}

// Execute fulfils one request. A fingerprint that was already fulfilled
// returns the stored artifact without spending quota or calling the model.
func (s *Service) Execute(ctx context.Context, req Request) (*ArtifactRef, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	name, err := ResolveTag(req.Tag)
	if err != nil {
		return nil, err
	}
	c, ok := s.chains.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: no chain configured for %q", ErrInvalidTag, req.Tag)
	}

	// Unknown businesses never reach the dedup lookup.
	businessID, err := s.store.FindBusinessID(ctx, req.Business)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ValidationError{Field: "business", Message: "Unknown business: " + req.Business}
		}
		return nil, &PersistenceError{Op: "find business", Err: err}
	}

	fp := identity.Fingerprint(req.Script, req.Business)
	logger := log.With().
		Str("fingerprint", fp[:12]).
		Str("identity_kind", string(req.Identity.Kind)).
		Str("chain", name).
		Logger()

	if ref, err := s.lookup(ctx, fp); err != nil || ref != nil {
		if ref != nil {
			logger.Info().Uint64("pdf_id", ref.PDFID).Msg("request already fulfilled")
		}
		return ref, err
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, fp)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, &PersistenceError{Op: "acquire fingerprint lock", Err: err}
		}
		defer unlock()
		if ref, err := s.lookup(ctx, fp); err != nil || ref != nil {
			if ref != nil {
				logger.Info().Uint64("pdf_id", ref.PDFID).Msg("request fulfilled while waiting for lock")
			}
			return ref, err
		}
	}

	observed, err := s.ledger.ReserveOrInit(ctx, req.Identity)
	if err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			logger.Info().Msg("quota exhausted")
			return nil, err
		}
		return nil, &PersistenceError{Op: "reserve quota", Err: err}
	}

	html, err := s.runner.Run(ctx, c, map[string]string{
		"sql_script": req.Script,
		"business":   req.Business,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("chain failed")
		return nil, err
	}

	ref, err := s.persist(ctx, logger, fp, req, businessID, html)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Consume(ctx, req.Identity, observed); err != nil {
		return nil, &PersistenceError{Op: "commit quota", Err: err}
	}
	s.recent.Add(fp, *ref)
	logger.Info().Uint64("pdf_id", ref.PDFID).Int("remaining_before", observed).Msg("document generated")
	return ref, nil
}

// lookup returns the stored artifact for fp, or nil when there is none.
func (s *Service) lookup(ctx context.Context, fp string) (*ArtifactRef, error) {
	if ref, ok := s.recent.Get(fp); ok {
		ref.Cached = true
		return &ref, nil
	}
	rec, err := s.store.FindRequest(ctx, fp)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "find request", Err: err}
	}
	pdf, err := s.store.GetPDF(ctx, rec.PDFID)
	if err != nil {
		return nil, &PersistenceError{Op: "find pdf", Err: err}
	}
	ref := ArtifactRef{PDFID: pdf.PDFID, Path: pdf.FilePath, Fingerprint: fp}
	s.recent.Add(fp, ref)
	ref.Cached = true
	return &ref, nil
}

// persist writes the files and rows in order without a transaction. A
// failure part way leaves the earlier writes behind.
func (s *Service) persist(ctx context.Context, logger zerolog.Logger, fp string, req Request, businessID uint64, html string) (*ArtifactRef, error) {
	doc, err := s.render(html)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	scriptPath, err := s.files.WriteScript(req.Business, fp, req.Script)
	if err != nil {
		return nil, &PersistenceError{Op: "write script", Err: err}
	}
	sqlID, err := s.store.InsertScript(ctx, scriptPath, businessID)
	if err != nil {
		return nil, &PersistenceError{Op: "insert script", Err: err}
	}
	pdfPath, err := s.files.WritePDF(doc)
	if err != nil {
		return nil, &PersistenceError{Op: "write pdf", Err: err}
	}
	pdfID, err := s.store.InsertPDF(ctx, pdfPath, sqlID)
	if err != nil {
		return nil, &PersistenceError{Op: "insert pdf", Err: err}
	}

	rec := &RequestRecord{RequestID: fp, PDFID: pdfID}
	v := req.Identity.Value
	if req.Identity.Kind == identity.KindUser {
		rec.UserID = &v
	} else {
		rec.IPAddress = &v
	}
	if err := s.store.InsertRequest(ctx, rec); err != nil {
		// A concurrent execution of the same fingerprint got there first.
		if existing, lerr := s.store.FindRequest(ctx, fp); lerr == nil {
			logger.Warn().Uint64("orphan_pdf_id", pdfID).Msg("request recorded concurrently")
			if p, perr := s.store.GetPDF(ctx, existing.PDFID); perr == nil {
				return &ArtifactRef{PDFID: p.PDFID, Path: p.FilePath, Fingerprint: fp}, nil
			}
		}
		return nil, &PersistenceError{Op: "insert request", Err: err}
	}
	return &ArtifactRef{PDFID: pdfID, Path: pdfPath, Fingerprint: fp}, nil
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Outcome is the result of Handle. Failures carry a kind, an HTTP-equivalent
// status and a caller-facing message.
type Outcome struct {
	Status     string       `json:"status"`
	Artifact   *ArtifactRef `json:"artifact,omitempty"`
	ErrorKind  ErrorKind    `json:"error_kind,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
	Message    string       `json:"message,omitempty"`
}

func failure(err error) Outcome {
	kind, code, msg := Classify(err)
	return Outcome{Status: StatusFailed, ErrorKind: kind, StatusCode: code, Message: msg}
}

// Handle runs Execute and converts every error, including panics, into an
// Outcome.
func (s *Service) Handle(ctx context.Context, req Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("execute panicked")
			out = failure(fmt.Errorf("panic: %v", r))
		}
	}()
	ref, err := s.Execute(ctx, req)
	if err != nil {
		return failure(err)
	}
	return Outcome{Status: StatusCompleted, Artifact: ref}
}
