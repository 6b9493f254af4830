package http

import (
	"time"

	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/object"
)

// Wire shapes for the JSON API. Internal objects never serialize directly,
// IDs render as hex and keys as dotted names.

type refBody struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Head      string    `json:"head"`
	CreatedAt time.Time `json:"createdAt"`
}

type refPageBody struct {
	Refs   []refBody `json:"refs"`
	Cursor string    `json:"cursor,omitempty"`
}

type entryBody struct {
	Key         string `json:"key"`
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
	PayloadRef  string `json:"payloadRef"`
}

type entryPageBody struct {
	Entries []entryBody `json:"entries"`
	Cursor  string      `json:"cursor,omitempty"`
}

type logEntryBody struct {
	ID         string            `json:"id"`
	Parents    []string          `json:"parents,omitempty"`
	Author     string            `json:"author,omitempty"`
	Committer  string            `json:"committer,omitempty"`
	CommitTime time.Time         `json:"commitTime"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type logPageBody struct {
	Entries []logEntryBody `json:"entries"`
	Cursor  string         `json:"cursor,omitempty"`
}

type diffSideBody struct {
	PayloadRef  string `json:"payloadRef"`
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
}

type diffEntryBody struct {
	Key  string        `json:"key"`
	From *diffSideBody `json:"from,omitempty"`
	To   *diffSideBody `json:"to,omitempty"`
}

type tableBody struct {
	MetadataLocation string `json:"metadataLocation"`
	SnapshotID       int64  `json:"snapshotId"`
	SchemaID         int64  `json:"schemaId"`
	SpecID           int64  `json:"specId"`
	SortOrderID      int64  `json:"sortOrderId"`
}

type viewBody struct {
	MetadataLocation string `json:"metadataLocation"`
	VersionID        int64  `json:"versionId"`
	SchemaID         int64  `json:"schemaId"`
}

type namespaceBody struct {
	Properties map[string]string `json:"properties,omitempty"`
}

type udfBody struct {
	Dialect string `json:"dialect"`
	Body    string `json:"body"`
}

type contentBody struct {
	ContentID   string         `json:"contentId"`
	ContentType string         `json:"contentType"`
	Table       *tableBody     `json:"table,omitempty"`
	View        *viewBody      `json:"view,omitempty"`
	Namespace   *namespaceBody `json:"namespace,omitempty"`
	UDF         *udfBody       `json:"udf,omitempty"`
}

func toRefBody(ref *object.Reference) refBody {
	return refBody{
		Name:      ref.Name,
		Kind:      ref.Kind.String(),
		Head:      ref.Head.String(),
		CreatedAt: ref.CreatedAt,
	}
}

func toRefPageBody(page *core.RefPage) refPageBody {
	body := refPageBody{Refs: make([]refBody, 0, len(page.Refs)), Cursor: page.Cursor}
	for _, ref := range page.Refs {
		body.Refs = append(body.Refs, toRefBody(ref))
	}
	return body
}

func toEntryPageBody(page *core.ScanPage) entryPageBody {
	body := entryPageBody{Entries: make([]entryBody, 0, len(page.Entries)), Cursor: page.Cursor}
	for _, entry := range page.Entries {
		body.Entries = append(body.Entries, entryBody{
			Key:         entry.Key.String(),
			ContentID:   entry.ContentID,
			ContentType: entry.ContentType.String(),
			PayloadRef:  entry.PayloadRef.String(),
		})
	}
	return body
}

func toLogPageBody(page *core.LogPage) logPageBody {
	body := logPageBody{Entries: make([]logEntryBody, 0, len(page.Entries)), Cursor: page.Cursor}
	for _, entry := range page.Entries {
		parents := make([]string, 0, len(entry.Commit.Parents))
		for _, parent := range entry.Commit.Parents {
			parents = append(parents, parent.String())
		}
		body.Entries = append(body.Entries, logEntryBody{
			ID:         entry.ID.String(),
			Parents:    parents,
			Author:     entry.Commit.Author,
			Committer:  entry.Commit.Committer,
			CommitTime: entry.Commit.CommitTime,
			Message:    entry.Commit.Message,
			Metadata:   entry.Commit.Metadata,
		})
	}
	return body
}

func toDiffBody(entries []core.DiffEntry) []diffEntryBody {
	body := make([]diffEntryBody, 0, len(entries))
	for _, entry := range entries {
		d := diffEntryBody{Key: entry.Key.String()}
		if !entry.FromRef.IsZero() {
			d.From = &diffSideBody{
				PayloadRef:  entry.FromRef.String(),
				ContentID:   entry.FromContentID,
				ContentType: entry.FromType.String(),
			}
		}
		if !entry.ToRef.IsZero() {
			d.To = &diffSideBody{
				PayloadRef:  entry.ToRef.String(),
				ContentID:   entry.ToContentID,
				ContentType: entry.ToType.String(),
			}
		}
		body = append(body, d)
	}
	return body
}

func toContentBody(content *object.Content) contentBody {
	body := contentBody{
		ContentID:   content.ContentID,
		ContentType: content.Type.String(),
	}
	if content.Table != nil {
		body.Table = &tableBody{
			MetadataLocation: content.Table.MetadataLocation,
			SnapshotID:       content.Table.SnapshotID,
			SchemaID:         content.Table.SchemaID,
			SpecID:           content.Table.SpecID,
			SortOrderID:      content.Table.SortOrderID,
		}
	}
	if content.View != nil {
		body.View = &viewBody{
			MetadataLocation: content.View.MetadataLocation,
			VersionID:        content.View.VersionID,
			SchemaID:         content.View.SchemaID,
		}
	}
	if content.Namespace != nil {
		body.Namespace = &namespaceBody{Properties: content.Namespace.Properties}
	}
	if content.UDF != nil {
		body.UDF = &udfBody{Dialect: content.UDF.Dialect, Body: content.UDF.Body}
	}
	return body
}
