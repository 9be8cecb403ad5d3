package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventops/internal/audit"
	cpsvc "github.com/geocoder89/eventops/internal/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/registration"
	"github.com/geocoder89/eventops/internal/http/handlers"
)

type fakeCheckpointService struct {
	resolveFn    func(ctx context.Context, eventID string, id cpsvc.Identifier) (registration.Registration, error)
	scanFn       func(ctx context.Context, req checkpoint.ScanRequest) (checkpoint.ScanResult, error)
	unscanFn     func(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) (bool, error)
	statusFn     func(ctx context.Context, rsvpID, eventID string) (checkpoint.Status, error)
	checkOrderFn func(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) error
	statsFn      func(ctx context.Context, eventID string) (checkpoint.Stats, error)
}

func (f *fakeCheckpointService) ResolveAttendee(ctx context.Context, eventID string, id cpsvc.Identifier) (registration.Registration, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, eventID, id)
	}
	return registration.Registration{}, checkpoint.ErrAttendeeNotFound
}

func (f *fakeCheckpointService) Scan(ctx context.Context, req checkpoint.ScanRequest) (checkpoint.ScanResult, error) {
	if f.scanFn != nil {
		return f.scanFn(ctx, req)
	}
	return checkpoint.ScanResult{Created: true}, nil
}

func (f *fakeCheckpointService) Unscan(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) (bool, error) {
	if f.unscanFn != nil {
		return f.unscanFn(ctx, rsvpID, eventID, t)
	}
	return false, nil
}

func (f *fakeCheckpointService) Status(ctx context.Context, rsvpID, eventID string) (checkpoint.Status, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, rsvpID, eventID)
	}
	return checkpoint.Status{RSVPID: rsvpID, EventID: eventID}, nil
}

func (f *fakeCheckpointService) CheckOrder(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) error {
	if f.checkOrderFn != nil {
		return f.checkOrderFn(ctx, rsvpID, eventID, t)
	}
	return nil
}

func (f *fakeCheckpointService) Stats(ctx context.Context, eventID string) (checkpoint.Stats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx, eventID)
	}
	return checkpoint.NewStats(eventID, 0, nil), nil
}

func newCheckpointsRouter(svc *fakeCheckpointService, sink *audit.Sink) *gin.Engine {
	r, g := newAuthedRouter("admin", "staff")
	h := handlers.NewCheckpointsHandler(svc, sink)

	cp := g.Group("/events/:id/checkpoints")
	cp.POST("/resolve", h.Resolve)
	cp.POST("/scan", h.Scan)
	cp.GET("/stats", h.Stats)
	cp.GET("/:rsvpId", h.Status)
	cp.DELETE("/:rsvpId/:type", h.Unscan)

	return r
}

func TestScan_CreatedIsAudited(t *testing.T) {
	var got checkpoint.ScanRequest

	svc := &fakeCheckpointService{
		resolveFn: func(ctx context.Context, eventID string, id cpsvc.Identifier) (registration.Registration, error) {
			if id.Email != "a@x.io" {
				t.Errorf("expected email identifier, got %+v", id)
			}
			return registration.Registration{ID: "r1", EventID: eventID}, nil
		},
		scanFn: func(ctx context.Context, req checkpoint.ScanRequest) (checkpoint.ScanResult, error) {
			got = req
			return checkpoint.ScanResult{Created: true, Scan: checkpoint.Scan{RSVPID: req.RSVPID}}, nil
		},
	}

	mem := &audit.MemoryWriter{}
	sink := audit.NewSink(mem, nil)

	body := `{"identifier":{"email":"a@x.io"},"checkpointType":"entry","method":"email"}`
	w := doRequest(newCheckpointsRouter(svc, sink), http.MethodPost, "/admin/events/ev-1/checkpoints/scan", "staff:s1", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}

	if got.RSVPID != "r1" || got.EventID != "ev-1" || got.ScannedBy != "s1" || got.Method != checkpoint.MethodEmail {
		t.Fatalf("unexpected scan request: %+v", got)
	}

	sink.Wait()

	entries := mem.Entries()
	if len(entries) != 1 || entries[0].Action != audit.ActionScan || entries[0].ActorID != "s1" {
		t.Fatalf("expected one checkpoint.scan audit entry, got %+v", entries)
	}
}

func TestScan_AlreadyScannedIs200(t *testing.T) {
	svc := &fakeCheckpointService{
		resolveFn: func(ctx context.Context, eventID string, id cpsvc.Identifier) (registration.Registration, error) {
			return registration.Registration{ID: id.ID}, nil
		},
		scanFn: func(ctx context.Context, req checkpoint.ScanRequest) (checkpoint.ScanResult, error) {
			return checkpoint.ScanResult{AlreadyScanned: true}, nil
		},
	}

	w := doRequest(newCheckpointsRouter(svc, nil), http.MethodPost, "/admin/events/ev-1/checkpoints/scan", "staff:s1",
		`{"rsvpId":"r1","checkpointType":"entry"}`)

	var resp struct {
		Created        bool `json:"created"`
		AlreadyScanned bool `json:"alreadyScanned"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	if w.Code != http.StatusOK || resp.Created || !resp.AlreadyScanned {
		t.Fatalf("expected 200 alreadyScanned, got %d %s", w.Code, w.Body.String())
	}
}

func TestScan_OrderingPolicy(t *testing.T) {
	scanned := false

	svc := &fakeCheckpointService{
		resolveFn: func(ctx context.Context, eventID string, id cpsvc.Identifier) (registration.Registration, error) {
			return registration.Registration{ID: id.ID}, nil
		},
		checkOrderFn: func(ctx context.Context, rsvpID, eventID string, ct checkpoint.Type) error {
			if ct.RequiresEntry() {
				return checkpoint.ErrEntryRequired
			}
			return nil
		},
		scanFn: func(ctx context.Context, req checkpoint.ScanRequest) (checkpoint.ScanResult, error) {
			scanned = true
			return checkpoint.ScanResult{Created: true}, nil
		},
	}

	w := doRequest(newCheckpointsRouter(svc, nil), http.MethodPost, "/admin/events/ev-1/checkpoints/scan", "staff:s1",
		`{"rsvpId":"r1","checkpointType":"swag"}`)

	var resp struct {
		Error handlers.APIError `json:"error"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	if w.Code != http.StatusConflict || resp.Error.Code != "entry_required" {
		t.Fatalf("expected 409 entry_required, got %d %s", w.Code, w.Body.String())
	}
	if scanned {
		t.Fatalf("scan must not be attempted when the ordering policy rejects it")
	}
}

func TestScan_Errors(t *testing.T) {
	r := newCheckpointsRouter(&fakeCheckpointService{}, nil)

	if w := doRequest(r, http.MethodPost, "/admin/events/ev-1/checkpoints/scan", "staff:s1", `{"rsvpId":"r1","checkpointType":"lunch"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown checkpoint type, got %d", w.Code)
	}

	if w := doRequest(r, http.MethodPost, "/admin/events/ev-1/checkpoints/scan", "staff:s1", `{"rsvpId":"nobody","checkpointType":"entry"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown attendee, got %d", w.Code)
	}

	if w := doRequest(r, http.MethodPost, "/admin/events/ev-1/checkpoints/scan", "guest:g1", `{"rsvpId":"r1","checkpointType":"entry"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non staff role, got %d", w.Code)
	}
}

func TestResolve_NoIdentifier(t *testing.T) {
	svc := &fakeCheckpointService{
		resolveFn: func(ctx context.Context, eventID string, id cpsvc.Identifier) (registration.Registration, error) {
			return registration.Registration{}, checkpoint.ErrNoIdentifier
		},
	}

	w := doRequest(newCheckpointsRouter(svc, nil), http.MethodPost, "/admin/events/ev-1/checkpoints/resolve", "staff:s1", `{}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUnscan(t *testing.T) {
	svc := &fakeCheckpointService{
		unscanFn: func(ctx context.Context, rsvpID, eventID string, ct checkpoint.Type) (bool, error) {
			return rsvpID == "r1" && ct == checkpoint.TypeEntry, nil
		},
	}

	mem := &audit.MemoryWriter{}
	sink := audit.NewSink(mem, nil)
	r := newCheckpointsRouter(svc, sink)

	w := doRequest(r, http.MethodDelete, "/admin/events/ev-1/checkpoints/r1/entry", "admin:u1", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"removed":true}` {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}

	w = doRequest(r, http.MethodDelete, "/admin/events/ev-1/checkpoints/r2/entry", "admin:u1", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"removed":false}` {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}

	if w := doRequest(r, http.MethodDelete, "/admin/events/ev-1/checkpoints/r1/lunch", "admin:u1", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad type, got %d", w.Code)
	}

	sink.Wait()
	if n := len(mem.Entries()); n != 1 {
		t.Fatalf("expected only the effective unscan audited, got %d entries", n)
	}
}

func TestStatusAndStatsRoutes(t *testing.T) {
	svc := &fakeCheckpointService{
		statsFn: func(ctx context.Context, eventID string) (checkpoint.Stats, error) {
			return checkpoint.NewStats(eventID, 3, map[checkpoint.Type]int{checkpoint.TypeEntry: 2}), nil
		},
	}
	r := newCheckpointsRouter(svc, nil)

	w := doRequest(r, http.MethodGet, "/admin/events/ev-1/checkpoints/stats", "staff:s1", "")

	var stats checkpoint.Stats
	_ = json.Unmarshal(w.Body.Bytes(), &stats)

	if w.Code != http.StatusOK || stats.Total != 3 || stats.Percentage[checkpoint.TypeEntry] != 66.7 {
		t.Fatalf("unexpected stats response %d %s", w.Code, w.Body.String())
	}

	w = doRequest(r, http.MethodGet, "/admin/events/ev-1/checkpoints/r9", "staff:s1", "")

	var st checkpoint.Status
	_ = json.Unmarshal(w.Body.Bytes(), &st)

	if w.Code != http.StatusOK || st.RSVPID != "r9" || st.EventID != "ev-1" {
		t.Fatalf("unexpected status response %d %s", w.Code, w.Body.String())
	}
}
