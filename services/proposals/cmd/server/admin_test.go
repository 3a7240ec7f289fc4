package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devmartsuriname/agenko-proposals/pkg/domain"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/store"
)

type fakeAdminStore struct {
	proposals      map[string]domain.Proposal
	recipients     map[int64][]domain.Recipient
	events         map[int64][]domain.Event
	idempotent     map[string]idempotentRecord
	duplicateFirst bool
	nextID         int64
}

type idempotentRecord struct {
	status int
	body   map[string]any
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{
		proposals:  map[string]domain.Proposal{},
		recipients: map[int64][]domain.Recipient{},
		events:     map[int64][]domain.Event{},
		idempotent: map[string]idempotentRecord{},
	}
}

func (f *fakeAdminStore) CreateProposal(_ context.Context, p domain.Proposal) (domain.Proposal, error) {
	f.nextID++
	p.ID = f.nextID
	p.Status = domain.StatusDraft
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.proposals[p.PublicID] = p
	return p, nil
}

func (f *fakeAdminStore) GetProposal(_ context.Context, publicID string) (domain.Proposal, error) {
	p, ok := f.proposals[publicID]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeAdminStore) AddRecipient(_ context.Context, proposalID int64, email, name, role, tokenHash string) (domain.Recipient, error) {
	if f.duplicateFirst {
		f.duplicateFirst = false
		return domain.Recipient{}, store.ErrDuplicateToken
	}
	f.nextID++
	rec := domain.Recipient{ID: f.nextID, ProposalID: proposalID, Email: email, Name: name, Role: role, TokenHash: tokenHash}
	f.recipients[proposalID] = append(f.recipients[proposalID], rec)
	return rec, nil
}

func (f *fakeAdminStore) ListRecipients(_ context.Context, proposalID int64) ([]domain.Recipient, error) {
	return f.recipients[proposalID], nil
}

func (f *fakeAdminStore) MarkSent(_ context.Context, publicID, content, contentHash string, sentAt time.Time, expiresAt *time.Time, recipientCount int) (domain.Proposal, error) {
	p, ok := f.proposals[publicID]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	if p.Status != domain.StatusDraft {
		return domain.Proposal{}, domain.ErrAlreadyResolved
	}
	p.Status = domain.StatusSent
	p.Content = content
	p.ContentHash = contentHash
	p.SentAt = &sentAt
	p.ExpiresAt = expiresAt
	f.proposals[publicID] = p
	return p, nil
}

func (f *fakeAdminStore) ListEvents(_ context.Context, proposalID int64) ([]domain.Event, error) {
	return f.events[proposalID], nil
}

func (f *fakeAdminStore) GetIdempotencyRecord(_ context.Context, actorID, key, endpoint string) (int, map[string]any, bool, error) {
	rec, ok := f.idempotent[actorID+"|"+key+"|"+endpoint]
	if !ok {
		return 0, nil, false, nil
	}
	return rec.status, rec.body, true, nil
}

func (f *fakeAdminStore) SaveIdempotencyRecord(_ context.Context, actorID, key, endpoint string, responseStatus int, responseBody map[string]any) error {
	f.idempotent[actorID+"|"+key+"|"+endpoint] = idempotentRecord{status: responseStatus, body: responseBody}
	return nil
}

const testAdminToken = "test-admin-token"

func newAdminTestServer(st adminStore) *httptest.Server {
	r := chi.NewRouter()
	registerAdminRoutes(r, st, testAdminToken, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return httptest.NewServer(r)
}

func adminDo(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestAdminRequiresBearerToken(t *testing.T) {
	srv := newAdminTestServer(newFakeAdminStore())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/proposals", "application/json", strings.NewReader(`{"title":"x"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/proposals", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateProposal(t *testing.T) {
	st := newFakeAdminStore()
	srv := newAdminTestServer(st)
	defer srv.Close()

	resp := adminDo(t, http.MethodPost, srv.URL+"/admin/proposals",
		`{"title":"Website redesign","subject":"Q4 scope","template_body":"Dear {{client}}","currency":"EUR","total_amount":"9800.00"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	proposal := body["proposal"].(map[string]any)
	publicID, _ := proposal["public_id"].(string)
	if !strings.HasPrefix(publicID, "prp_") {
		t.Fatalf("public id: %q", publicID)
	}
	if proposal["status"] != "draft" {
		t.Fatalf("status: %v", proposal["status"])
	}

	resp = adminDo(t, http.MethodPost, srv.URL+"/admin/proposals", `{"subject":"no title"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing title: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateProposalIdempotentReplay(t *testing.T) {
	st := newFakeAdminStore()
	srv := newAdminTestServer(st)
	defer srv.Close()

	body := `{"title":"Once","actor_email":"ops@agenko.io"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/proposals", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	req.Header.Set("Idempotency-Key", "key-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	first := decodeBody(t, resp)

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/admin/proposals", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	req.Header.Set("Idempotency-Key", "key-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	second := decodeBody(t, resp)

	firstID := first["proposal"].(map[string]any)["public_id"]
	secondID := second["proposal"].(map[string]any)["public_id"]
	if firstID != secondID {
		t.Fatalf("replay must return the original response: %v vs %v", firstID, secondID)
	}
	if len(st.proposals) != 1 {
		t.Fatalf("retried create must not act twice, have %d proposals", len(st.proposals))
	}
}

func TestAddRecipientIssuesTokenOnce(t *testing.T) {
	st := newFakeAdminStore()
	st.proposals["prp_1"] = domain.Proposal{ID: 1, PublicID: "prp_1", Status: domain.StatusDraft}
	srv := newAdminTestServer(st)
	defer srv.Close()

	resp := adminDo(t, http.MethodPost, srv.URL+"/admin/proposals/prp_1/recipients",
		`{"email":"client@example.com","name":"Ms. Client","role":"primary"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)

	plaintext, _ := body["token"].(string)
	if plaintext == "" {
		t.Fatal("response must carry the plaintext token exactly once")
	}
	rec := body["recipient"].(map[string]any)
	if _, leaked := rec["token"]; leaked {
		t.Fatal("recipient view must not carry the token")
	}
	tokenRef, _ := rec["token_ref"].(string)
	if tokenRef == "" || strings.Contains(plaintext, tokenRef) {
		t.Fatalf("token_ref must be a hash reference, got %q", tokenRef)
	}
	stored := st.recipients[1][0]
	if stored.TokenHash == plaintext {
		t.Fatal("store must hold the hash, not the plaintext")
	}
}

func TestAddRecipientRetriesOnHashCollision(t *testing.T) {
	st := newFakeAdminStore()
	st.proposals["prp_1"] = domain.Proposal{ID: 1, PublicID: "prp_1", Status: domain.StatusDraft}
	st.duplicateFirst = true
	srv := newAdminTestServer(st)
	defer srv.Close()

	resp := adminDo(t, http.MethodPost, srv.URL+"/admin/proposals/prp_1/recipients", `{"email":"client@example.com"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("collision retry failed: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	if len(st.recipients[1]) != 1 {
		t.Fatalf("expected one stored recipient, got %d", len(st.recipients[1]))
	}
}

func TestSendProposal(t *testing.T) {
	st := newFakeAdminStore()
	st.proposals["prp_1"] = domain.Proposal{ID: 1, PublicID: "prp_1", Status: domain.StatusDraft, Content: "Dear {{client}}, total {{amount}}."}
	srv := newAdminTestServer(st)
	defer srv.Close()

	// No recipients yet.
	resp := adminDo(t, http.MethodPost, srv.URL+"/admin/proposals/prp_1/send", `{"variables":{"client":"Acme","amount":"USD 1.00"}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("send without recipients: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	st.recipients[1] = []domain.Recipient{{ID: 2, ProposalID: 1, Email: "client@example.com"}}

	// Unresolved placeholder blocks the send.
	resp = adminDo(t, http.MethodPost, srv.URL+"/admin/proposals/prp_1/send", `{"variables":{"client":"Acme"}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("send with missing vars: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = adminDo(t, http.MethodPost, srv.URL+"/admin/proposals/prp_1/send", `{"variables":{"client":"Acme","amount":"USD 1.00"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send: status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	proposal := body["proposal"].(map[string]any)
	if proposal["status"] != "sent" {
		t.Fatalf("status: %v", proposal["status"])
	}
	if !strings.Contains(proposal["content"].(string), "Dear Acme") {
		t.Fatalf("snapshot content: %v", proposal["content"])
	}

	// A second send cannot replace the snapshot.
	resp = adminDo(t, http.MethodPost, srv.URL+"/admin/proposals/prp_1/send", `{"variables":{"client":"Other","amount":"USD 2.00"}}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double send: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListEventsEndpoint(t *testing.T) {
	st := newFakeAdminStore()
	st.proposals["prp_1"] = domain.Proposal{ID: 1, PublicID: "prp_1", Status: domain.StatusSent}
	raw, _ := domain.EncodeDetails(domain.ViewDetails{RecipientEmail: "client@example.com", FirstView: true})
	st.events[1] = []domain.Event{{ID: 9, ProposalID: 1, Type: domain.EventView, ActorEmail: "client@example.com", Details: raw, CreatedAt: time.Now()}}
	srv := newAdminTestServer(st)
	defer srv.Close()

	resp := adminDo(t, http.MethodGet, srv.URL+"/admin/proposals/prp_1/events", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	events := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events: %v", events)
	}
	ev := events[0].(map[string]any)
	if ev["event_type"] != "view" {
		t.Fatalf("event type: %v", ev["event_type"])
	}
	var details map[string]any
	b, _ := json.Marshal(ev["details"])
	_ = json.Unmarshal(b, &details)
	if details["first_view"] != true {
		t.Fatalf("details: %v", details)
	}
}
