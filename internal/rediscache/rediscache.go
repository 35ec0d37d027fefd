package rediscache

import (
	"strconv"
	"strings"
)

const MarkerKey = "cocalc:meta:app"
const MarkerValue = "cocalc-hub"

type Namespace struct {
	Prefix   string
	IndexKey string
}

// Hubs holds one hash per live hub plus a sorted set of hub ids scored by
// expiry.
var Hubs = Namespace{
	Prefix:   "hub:meta:",
	IndexKey: "hub:index",
}

// HubID is the member name of a hub in the index.
func HubID(host string, port int) string {
	return strings.TrimSpace(host) + ":" + strconv.Itoa(port)
}

func MetaKey(ns Namespace, id string) string { return ns.Prefix + id }
