package rediscache

import "testing"

func TestHubKeys(t *testing.T) {
	id := HubID(" hub-0 ", 5000)
	if id != "hub-0:5000" {
		t.Fatalf("HubID = %q", id)
	}
	if got := MetaKey(Hubs, id); got != "hub:meta:hub-0:5000" {
		t.Fatalf("MetaKey = %q", got)
	}
}
