package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
	"github.com/stackitcloud-oss/ragctl/pkg/enhancer"
	"github.com/stackitcloud-oss/ragctl/pkg/fn"
	"github.com/stackitcloud-oss/ragctl/pkg/resilience"
)

// uploadJob carries one source's state through the pipeline stages.
type uploadJob struct {
	source        domain.Source
	qualifiedName string
	blobKey       string
	filename      string
	baseURL       string
	docs          []domain.ExtractedDocument
	pieces        []domain.InformationPiece
}

// errNoInformationPieces signals that extraction produced nothing usable,
// which is terminal: the source moves straight to ERROR.
var errNoInformationPieces = fmt.Errorf("no information pieces extracted")

// pipeline composes the upload stages in order, guarding each against
// cooperative cancellation so a Cancel call takes effect between stages
// rather than only at the next blocking I/O call.
func (s *Service) pipeline() fn.Stage[uploadJob, uploadJob] {
	return fn.Pipeline(
		cancelGuard(s.logStage("extract")),
		cancelGuard(resilience.BreakerStage(s.breaker, s.extractStage)),
		cancelGuard(s.logStage("chunk")),
		cancelGuard(s.chunkStage),
		cancelGuard(s.addFileURLStage),
		cancelGuard(s.logStage("enhance")),
		cancelGuard(s.enhanceStage),
		cancelGuard(s.logStage("replace-previous-version")),
		cancelGuard(s.replaceOldStage),
		cancelGuard(s.markUploadingStage),
		cancelGuard(s.uploadStage),
	)
}

func cancelGuard(stage fn.Stage[uploadJob, uploadJob]) fn.Stage[uploadJob, uploadJob] {
	return func(ctx context.Context, job uploadJob) fn.Result[uploadJob] {
		if err := ctx.Err(); err != nil {
			return fn.Err[uploadJob](err)
		}
		return stage(ctx, job)
	}
}

func (s *Service) logStage(label string) fn.Stage[uploadJob, uploadJob] {
	return fn.TapStage[uploadJob](func(ctx context.Context, job uploadJob) {
		s.logger.DebugContext(ctx, "ingest stage", "stage", label, "source", job.qualifiedName)
	})
}

func (s *Service) extractStage(ctx context.Context, job uploadJob) fn.Result[uploadJob] {
	var body io.Reader
	filename := job.filename

	if job.blobKey != "" {
		r, _, err := s.blobs.Get(ctx, job.blobKey)
		if err != nil {
			return fn.Err[uploadJob](fmt.Errorf("ingest: read stored file: %w", err))
		}
		defer r.Close()
		body = r
	}

	docs, err := s.extractor.Extract(ctx, job.source.Type, job.qualifiedName, body, filename, job.source.Kwargs)
	if err != nil {
		return fn.Err[uploadJob](fmt.Errorf("ingest: extract %s: %w", job.qualifiedName, err))
	}
	if len(docs) == 0 {
		return fn.Err[uploadJob](fmt.Errorf("%w: %s", errNoInformationPieces, job.qualifiedName))
	}
	job.docs = docs
	return fn.Ok(job)
}

func (s *Service) chunkStage(_ context.Context, job uploadJob) fn.Result[uploadJob] {
	var pieces []domain.InformationPiece
	for i, doc := range job.docs {
		prefix := fmt.Sprintf("%s#%d", job.qualifiedName, i)
		for _, p := range enhancer.Chunk(doc, prefix, s.chunkOpts) {
			if p.Metadata == nil {
				p.Metadata = map[string]string{}
			}
			p.Metadata[domain.MetaKeySource] = job.qualifiedName
			pieces = append(pieces, p)
		}
	}
	job.pieces = pieces
	return fn.Ok(job)
}

// addFileURLStage attaches a document_reference URL to every chunk of a
// file-backed source, matching _add_file_url's handling of the "file" type.
func (s *Service) addFileURLStage(_ context.Context, job uploadJob) fn.Result[uploadJob] {
	if job.source.Type != "file" {
		return fn.Ok(job)
	}
	documentURL := fmt.Sprintf("%s/document_reference/%s", strings.TrimRight(job.baseURL, "/"), url.QueryEscape(job.qualifiedName))
	for i := range job.pieces {
		job.pieces[i].Related = removeSelf(job.pieces[i].Related, job.pieces[i].ID)
		job.pieces[i].Chunk = i
		job.pieces[i].DocumentURL = documentURL
	}
	return fn.Ok(job)
}

func removeSelf(ids []string, self string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// enhanceStage attempts to produce a SUMMARY piece for each content piece.
// A single piece failing enhancement does not fail the whole upload; it
// keeps the original content piece and moves on.
func (s *Service) enhanceStage(ctx context.Context, job uploadJob) fn.Result[uploadJob] {
	if s.enhance == nil {
		return fn.Ok(job)
	}
	originals := job.pieces
	var extra []domain.InformationPiece
	for _, p := range originals {
		summary, ok, err := s.enhance.Enhance(ctx, p)
		if err != nil {
			s.logger.WarnContext(ctx, "ingest: enhance failed, keeping content piece only", "piece", p.ID, "error", err)
			continue
		}
		if ok {
			extra = append(extra, summary)
		}
	}
	job.pieces = append(job.pieces, extra...)
	return fn.Ok(job)
}

// replaceOldStage best-effort deletes the previous version of this source
// before uploading the new one. Failure here is swallowed, not propagated,
// matching the "deletion is allowed to fail" behaviour of the upload flow.
func (s *Service) replaceOldStage(ctx context.Context, job uploadJob) fn.Result[uploadJob] {
	if err := s.deleteWithRetry(ctx, job.qualifiedName); err != nil {
		s.logger.WarnContext(ctx, "ingest: best-effort delete of previous version failed", "source", job.qualifiedName, "error", err)
	}
	return fn.Ok(job)
}

func (s *Service) markUploadingStage(ctx context.Context, job uploadJob) fn.Result[uploadJob] {
	s.transition(ctx, job.qualifiedName, domain.StatusUploading, "")
	return fn.Ok(job)
}

func (s *Service) uploadStage(ctx context.Context, job uploadJob) fn.Result[uploadJob] {
	if err := s.vectors.Upload(ctx, job.pieces, ""); err != nil {
		return fn.Err[uploadJob](fmt.Errorf("ingest: upload pieces for %s: %w", job.qualifiedName, err))
	}
	return fn.Ok(job)
}
