package es

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"lexicon-go/internal/config"
	"lexicon-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	mu         sync.Mutex
	docs       map[string]LabelDocument
	bulkCalls  int
	indexExist bool
	created    string
	rejectID   string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodHead:
		if f.indexExist {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut:
		f.created = strings.TrimPrefix(r.URL.Path, "/")
		f.indexExist = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.bulkCalls++
		var items []string
		failed := false
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1<<20), 1<<20)
		for sc.Scan() {
			var meta map[string]map[string]string
			if err := json.Unmarshal(sc.Bytes(), &meta); err != nil || !sc.Scan() {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var doc LabelDocument
			_ = json.Unmarshal(sc.Bytes(), &doc)
			id := meta["index"]["_id"]
			if id == f.rejectID {
				failed = true
				items = append(items, fmt.Sprintf(`{"index":{"_id":%q,"status":400,"error":{"type":"mapper_parsing_exception","reason":"bad"}}}`, id))
				continue
			}
			f.docs[id] = doc
			items = append(items, fmt.Sprintf(`{"index":{"_id":%q,"status":201}}`, id))
		}
		_, _ = fmt.Fprintf(w, `{"errors":%t,"items":[%s]}`, failed, strings.Join(items, ","))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFakeCluster(t *testing.T) (*fakeCluster, *Indexer) {
	t.Helper()
	fc := &fakeCluster{docs: map[string]LabelDocument{}}
	srv := httptest.NewServer(fc)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	return fc, NewIndexer(client, "equipment_labels")
}

func batchOf(n int) model.CommittedBatch {
	b := model.CommittedBatch{RunID: "run", Seq: 1, Store: "csv"}
	for i := 1; i <= n; i++ {
		b.Records = append(b.Records, model.LabelRecord{
			EquipmentID:   fmt.Sprint(i),
			EquipmentName: fmt.Sprintf("装备%d", i),
			AllLabels:     []string{"gold"},
		})
	}
	return b
}

func TestEnsureIndex_CreatesOnce(t *testing.T) {
	fc, ix := newFakeCluster(t)
	require.NoError(t, EnsureIndex(context.Background(), ix.client, "equipment_labels"))
	assert.Equal(t, "equipment_labels", fc.created)

	fc.created = ""
	require.NoError(t, EnsureIndex(context.Background(), ix.client, "equipment_labels"))
	assert.Empty(t, fc.created)
}

func TestIndexer_BulkIndexesInChunks(t *testing.T) {
	fc, ix := newFakeCluster(t)
	require.NoError(t, ix.BatchCommitted(context.Background(), batchOf(45)))

	assert.Equal(t, 3, fc.bulkCalls)
	assert.Len(t, fc.docs, 45)
	assert.Equal(t, "装备7", fc.docs["7"].EquipmentName)
	assert.Equal(t, "run", fc.docs["7"].RunID)
}

func TestIndexer_ReportsRejectedDocuments(t *testing.T) {
	fc, ix := newFakeCluster(t)
	fc.rejectID = "2"
	err := ix.BatchCommitted(context.Background(), batchOf(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document 2")
	assert.Len(t, fc.docs, 2)
}
