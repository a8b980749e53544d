package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// DiscoveryPath is the well-known discovery endpoint of spec §6.
const DiscoveryPath = "/.well-known/nuwa-payment/info"

// DefaultBasePath is the fallback basePath a payer client uses when
// discovery fails entirely (spec §4.6 discoverService).
const DefaultBasePath = "/payment-channel"

// DiscoveryDocument is the JSON body spec §6 defines for DiscoveryPath.
type DiscoveryDocument struct {
	Version               int    `json:"version"`
	ServiceID             string `json:"serviceId"`
	ServiceDID            string `json:"serviceDid"`
	Network               string `json:"network"`
	DefaultAssetID        string `json:"defaultAssetId"`
	DefaultPricePicoUSD   string `json:"defaultPricePicoUSD,omitempty"`
	BasePath              string `json:"basePath"`
}

// DiscoveryHandler serves DiscoveryPath from a fixed document. Construct a
// new DiscoveryDocument and handler per deployment; the document rarely
// changes at runtime.
func DiscoveryHandler(doc *DiscoveryDocument) http.HandlerFunc {
	body, err := json.Marshal(doc)
	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, fmt.Sprintf("transport: marshal discovery document: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// FetchDiscoveryDocument is the payer-side counterpart: GET baseURL+DiscoveryPath
// and decode the result. Callers should fall back to DefaultBasePath on any
// error, per spec §4.6.
func FetchDiscoveryDocument(client *http.Client, baseURL string) (*DiscoveryDocument, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(baseURL + DiscoveryPath)
	if err != nil {
		return nil, fmt.Errorf("transport: fetch discovery document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: discovery document: unexpected status %d", resp.StatusCode)
	}
	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("transport: decode discovery document: %w", err)
	}
	return &doc, nil
}
