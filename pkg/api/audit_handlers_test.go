package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/redback/pkg/audit"
)

type stubSearcher struct {
	filter audit.SearchFilter
	events []*audit.Event
	err    error
}

func (s *stubSearcher) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error) {
	s.filter = filter
	return s.events, s.err
}

func TestAuditHandlers_SearchEvents(t *testing.T) {
	searcher := &stubSearcher{events: []*audit.Event{
		{ID: "1", EventType: audit.EventTypeRoleSaved, ResourceType: audit.ResourceTypeRole, ResourceName: "admin"},
	}}
	server := NewServer(newTestStore(t), nil, nil)
	server.RegisterRoutes(NewAuditHandlers(searcher))

	rec := doRequest(t, server, "GET",
		"/rbac/audit?type=rbac.role_saved,rbac.role_removed&resource_type=role&resource=admin&since=2026-01-02T15:04:05Z&limit=10&offset=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var events []audit.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "admin", events[0].ResourceName)

	assert.Equal(t, []audit.EventType{audit.EventTypeRoleSaved, audit.EventTypeRoleRemoved}, searcher.filter.EventTypes)
	assert.Equal(t, audit.ResourceTypeRole, searcher.filter.ResourceType)
	assert.Equal(t, "admin", searcher.filter.ResourceName)
	require.NotNil(t, searcher.filter.StartTime)
	assert.True(t, searcher.filter.StartTime.Equal(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)))
	assert.Nil(t, searcher.filter.EndTime)
	assert.Equal(t, 10, searcher.filter.Limit)
	assert.Equal(t, 5, searcher.filter.Offset)
}

func TestAuditHandlers_Errors(t *testing.T) {
	searcher := &stubSearcher{}
	server := NewServer(newTestStore(t), nil, nil)
	server.RegisterRoutes(NewAuditHandlers(searcher))

	rec := doRequest(t, server, "GET", "/rbac/audit", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	for _, path := range []string{"/rbac/audit?since=yesterday", "/rbac/audit?limit=-1", "/rbac/audit?offset=x"} {
		rec = doRequest(t, server, "GET", path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	searcher.err = errors.New("database is locked")
	rec = doRequest(t, server, "GET", "/rbac/audit", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
