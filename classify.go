package tinct

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jward/tinct/internal/logger"
	"github.com/jward/tinct/internal/scope"
	"github.com/jward/tinct/internal/syntax"
	"github.com/jward/tinct/internal/text"
)

// ErrSessionMismatch is returned when a Session is used with a document
// other than the one it was created for.
var ErrSessionMismatch = errors.New("tinct: session belongs to another document")

// treeClassifier is implemented by classifiers that can work from a parse
// tree the Engine already built, so a pass parses its document once.
type treeClassifier interface {
	ClassifyTree(ctx context.Context, doc Document, tree *syntax.Tree, span TextSpan, out []ClassifiedSpan) ([]ClassifiedSpan, error)
}

// Classify returns classifications for requested within doc.
//
// The tiers are tried in order: a pass narrowed to the member enclosing the
// session's pending edit, then (only while the workspace is still loading) a
// cached result for doc's exact checksum, then the classifier over all of
// requested. Passes that run the classifier update sess; a cache replay
// leaves it as it was.
//
// sess may be nil, in which case no narrowing is attempted. Classifier and
// storage failures are logged and yield an empty result with a nil error.
// The only errors returned are ctx.Err() and ErrSessionMismatch; neither
// touches the cache or the session.
func (e *Engine) Classify(ctx context.Context, doc Document, requested TextSpan, sess *Session) (Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if sess != nil && sess.Key != doc.Key {
		return Result{}, fmt.Errorf("%w: session %s, document %s", ErrSessionMismatch, sess.Key, doc.Key)
	}

	log := logger.FromContext(ctx, e.logger).With(zap.Stringer("document", doc.Key))
	if sess != nil {
		log = log.With(zap.Stringer("session", sess.ID))
	}

	prior := sess.snapshot()
	p := &pass{e: e, ctx: ctx, doc: doc, log: log}
	defer p.release()

	if prior.change != nil {
		if err := p.ensureSyntax(); err != nil {
			return Result{}, err
		}
	}

	if narrowed, ok := scope.Narrow(scope.State{SemanticVersion: prior.version}, prior.change, p.syn); ok {
		spans, err := p.classify(narrowed)
		if err != nil {
			return e.failed(ctx, log, start, err)
		}
		sess.commit(prior, p.syn.SemanticVersion(), narrowed)
		log.Debug("Classified narrowed span",
			zap.Stringer("requested", requested), zap.Stringer("tagged", narrowed), zap.Int("spans", len(spans)))
		return e.done(start, Result{Spans: spans, Tagged: narrowed, Source: SourceScoped}), nil
	}

	ws := e.workspaces.Open(doc.Key.Project)
	if !ws.IsLoaded() {
		spans, ok, err := ws.Cache().GetOrRead(ctx, doc.Key, doc.Checksum())
		if err != nil {
			return Result{}, err
		}
		if ok {
			spans = text.FilterIntersecting(spans, requested)
			log.Debug("Replayed cached classifications",
				zap.Stringer("requested", requested), zap.Int("spans", len(spans)))
			return e.done(start, Result{Spans: spans, Tagged: requested, Source: SourceCache}), nil
		}
	}

	// A session needs the tree's version, so parse before classifying and
	// let the classifier share the tree.
	if sess != nil {
		if err := p.ensureSyntax(); err != nil {
			return Result{}, err
		}
	}
	spans, err := p.classify(requested)
	if err != nil {
		return e.failed(ctx, log, start, err)
	}
	if sess != nil {
		sess.commit(prior, p.version(), requested)
	}
	return e.done(start, Result{Spans: spans, Tagged: requested, Source: SourceComputed}), nil
}

func (e *Engine) done(start time.Time, res Result) Result {
	e.metrics.ObserveClassify(string(res.Source), time.Since(start).Seconds())
	return res
}

// failed turns a classifier error into an empty result, unless the error
// came from cancellation.
func (e *Engine) failed(ctx context.Context, log *zap.Logger, start time.Time, err error) (Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	log.Warn("Classification failed", zap.Error(err))
	return e.done(start, Result{Source: SourceFailed}), nil
}

// pass holds the lazily parsed syntax of one Classify call.
type pass struct {
	e      *Engine
	ctx    context.Context
	doc    Document
	log    *zap.Logger
	parsed bool
	syn    scope.Syntax
	free   func()
}

// ensureSyntax parses the document once. Parse failures other than
// cancellation leave syn nil, which disables narrowing.
func (p *pass) ensureSyntax() error {
	if p.parsed {
		return nil
	}
	p.parsed = true
	syn, release, err := p.e.parse(p.ctx, p.doc)
	p.free = release
	if err != nil {
		if ctxErr := p.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.log.Warn("Failed to parse document for narrowing", zap.Error(err))
		return nil
	}
	p.syn = syn
	return nil
}

// classify runs the classifier over span, handing it the pass's tree when
// both sides support that.
func (p *pass) classify(span TextSpan) ([]ClassifiedSpan, error) {
	if tc, ok := p.e.classifier.(treeClassifier); ok {
		if tree, ok := p.syn.(*syntax.Tree); ok && tree != nil {
			return tc.ClassifyTree(p.ctx, p.doc, tree, span, nil)
		}
	}
	return p.e.classifier.AddSemanticClassifications(p.ctx, p.doc, span, nil)
}

func (p *pass) version() scope.Version {
	if p.syn == nil {
		return ""
	}
	return p.syn.SemanticVersion()
}

func (p *pass) release() {
	if p.free != nil {
		p.free()
	}
}
