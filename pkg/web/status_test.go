package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antirez/freakwan/pkg/wan"
)

type fakeNode struct{}

func (fakeNode) Status() wan.NodeStatus {
	return wan.NodeStatus{Nick: "tester", NodeID: "aabbccddeeff", Neighbors: 2}
}

func (fakeNode) Neighbors() []wan.NeighborStatus {
	return []wan.NeighborStatus{
		{NodeID: "010101010101", Nick: "alice", RSSI: -70},
		{NodeID: "020202020202", Nick: "bob", RSSI: -90},
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewRouter(fakeNode{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st wan.NodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Nick != "tester" || st.NodeID != "aabbccddeeff" || st.Neighbors != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestNeighborsEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewRouter(fakeNode{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/neighbors")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var nbrs []wan.NeighborStatus
	if err := json.NewDecoder(resp.Body).Decode(&nbrs); err != nil {
		t.Fatal(err)
	}
	if len(nbrs) != 2 || nbrs[0].Nick != "alice" || nbrs[1].RSSI != -90 {
		t.Errorf("neighbors = %+v", nbrs)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := httptest.NewServer(NewRouter(fakeNode{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}
