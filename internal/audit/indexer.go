// Package audit indexes one Elasticsearch document per successful profile update.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"

	"github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/pipeline"
)

type StepDocument struct {
	Step    string `json:"step"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type Document struct {
	ID           string         `json:"id"`
	SubjectID    string         `json:"subjectId"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	RulesApplied int            `json:"rulesApplied"`
	RuleFaults   int            `json:"ruleFaults"`
	Steps        []StepDocument `json:"steps"`
	Competences  int            `json:"competences"`
	Meanings     int            `json:"meanings"`
	Materials    int            `json:"materials"`
}

// NewDocument summarises a pipeline result.
func NewDocument(result *pipeline.Result, at time.Time) Document {
	doc := Document{
		ID:           uuid.New().String(),
		SubjectID:    result.SubjectID,
		UpdatedAt:    at.UTC(),
		RulesApplied: result.Rules.Applied(),
		RuleFaults:   len(result.Rules.Faults()),
		Steps:        make([]StepDocument, 0, len(result.Steps)),
	}
	for _, s := range result.Steps {
		sd := StepDocument{Step: s.Step, Outcome: string(s.Outcome)}
		if s.Err != nil {
			sd.Error = s.Err.Error()
		}
		doc.Steps = append(doc.Steps, sd)
	}
	if p := result.Profile; p != nil {
		doc.Competences = len(p.Competences)
		doc.Meanings = len(p.Meanings)
		doc.Materials = len(p.Materials)
	}
	return doc
}

// Indexer writes audit documents to a single index.
type Indexer struct {
	client *elasticsearch.Client
	index  string
}

func NewIndexer(client *elasticsearch.Client, index string) *Indexer {
	return &Indexer{client: client, index: index}
}

// RecordUpdate implements pipeline.Auditor.
func (i *Indexer) RecordUpdate(ctx context.Context, result *pipeline.Result, at time.Time) error {
	doc := NewDocument(result, at)
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.NewAuditIndexFailedError(fmt.Errorf("encode document: %w", err))
	}

	res, err := i.client.Index(
		i.index,
		bytes.NewReader(body),
		i.client.Index.WithDocumentID(doc.ID),
		i.client.Index.WithContext(ctx),
	)
	if err != nil {
		return errors.NewAuditIndexFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return errors.NewAuditIndexFailedError(fmt.Errorf("index %s: %s: %s", i.index, res.Status(), msg))
	}
	return nil
}
