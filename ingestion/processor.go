// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"log/slog"

	"github.com/poiesic/reviewmill/core"
)

// reviewJob carries one review through the enrichment and indexing stages.
// A job is handled by a single worker per stage, so stages need no locking.
type reviewJob struct {
	review    *core.Review
	images    int
	vector    []float32
	indexed   bool
	anomalies []core.Anomaly
}

func (j *reviewJob) anomaly(kind core.AnomalyKind, detail string) {
	j.anomalies = append(j.anomalies, core.Anomaly{
		Kind:       kind,
		Page:       -1,
		ExternalID: j.review.ExternalID,
		Detail:     detail,
	})
}

// processor is one per-review stage of the pipeline.
// Implementations never fail a job; problems are recorded as anomalies on it.
type processor interface {
	// name identifies the stage in logs.
	name() string

	// process enriches a single review of product.
	process(ctx context.Context, product *core.Product, job *reviewJob)
}

// sentimentProcessor classifies review text.
type sentimentProcessor struct {
	classifier Classifier
	logger     *slog.Logger
}

var _ processor = (*sentimentProcessor)(nil)

func (sp *sentimentProcessor) name() string { return "sentiment" }

func (sp *sentimentProcessor) process(ctx context.Context, product *core.Product, job *reviewJob) {
	s := sp.classifier.Classify(ctx, job.review.Text())
	job.review.Sentiment = &s
	if s.Source == core.SourceFallback {
		sp.logger.Debug("review classified by fallback", "review", job.review.ExternalID)
		job.anomaly(core.AnomalyClassificationFallback, s.Reasoning)
	}
}

// mediaProcessor stores the images attached to a persisted review.
type mediaProcessor struct {
	media MediaStore
}

var _ processor = (*mediaProcessor)(nil)

func (mp *mediaProcessor) name() string { return "media" }

func (mp *mediaProcessor) process(ctx context.Context, product *core.Product, job *reviewJob) {
	if len(job.review.Images) == 0 {
		return
	}
	stored, anomalies := mp.media.Store(ctx, product, job.review.Id, job.review.Images)
	job.images = len(stored)
	job.anomalies = append(job.anomalies, anomalies...)
}

// indexProcessor embeds reviews whose text is not yet in the index. Vectors
// are left on the job and published for the whole stage by publishIndex.
type indexProcessor struct {
	index  Indexer
	logger *slog.Logger
}

var _ processor = (*indexProcessor)(nil)

func (ip *indexProcessor) name() string { return "index" }

func (ip *indexProcessor) process(ctx context.Context, product *core.Product, job *reviewJob) {
	r := job.review
	if r.Indexed() && r.ContentHash == core.IDFromContent(r.Text()) && ip.index.Contains(r.Id) {
		return
	}
	vector, err := ip.index.Embed(ctx, r.Text())
	if err != nil {
		ip.logger.Warn("review not indexed", "review", r.Id, "err", err)
		job.anomaly(core.AnomalyIndex, err.Error())
		return
	}
	job.vector = vector
}
