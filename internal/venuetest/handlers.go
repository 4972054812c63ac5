package venuetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type exchangeResponse struct {
	Status   string `json:"status"`
	Response any    `json:"response"`
}

type actionData struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if f, ok := s.state.popFailure(); ok {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.body))
		return
	}

	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if msg, ok := s.state.popRejection(); ok {
		writeJSON(w, exchangeResponse{Status: "err", Response: msg})
		return
	}

	switch req.Action["type"] {
	case "order":
		writeJSON(w, s.handleOrder(req.Action))
	case "cancel":
		writeJSON(w, s.handleCancel(req.Action))
	default:
		writeJSON(w, exchangeResponse{Status: "err", Response: "Unknown action type"})
	}
}

func (s *Server) handleOrder(action map[string]any) exchangeResponse {
	orders, _ := action["orders"].([]any)
	statuses := make([]any, 0, len(orders))
	for _, o := range orders {
		m, _ := o.(map[string]any)
		asset, _ := m["a"].(float64)
		isBuy, _ := m["b"].(bool)
		px, _ := m["p"].(string)
		sz, _ := m["s"].(string)
		tif := ""
		if t, ok := m["t"].(map[string]any); ok {
			if limit, ok := t["limit"].(map[string]any); ok {
				tif, _ = limit["tif"].(string)
			}
		}

		oid, errMsg := s.state.place(PlacedOrder{Asset: int(asset), IsBuy: isBuy, Price: px, Size: sz, Tif: tif})
		if errMsg != "" {
			statuses = append(statuses, map[string]any{"error": errMsg})
			continue
		}
		if strings.EqualFold(tif, "Ioc") {
			statuses = append(statuses, map[string]any{"filled": map[string]any{"oid": oid, "totalSz": sz, "avgPx": px}})
			continue
		}
		statuses = append(statuses, map[string]any{"resting": map[string]any{"oid": oid}})
	}
	return exchangeResponse{
		Status:   "ok",
		Response: actionData{Type: "order", Data: map[string]any{"statuses": statuses}},
	}
}

func (s *Server) handleCancel(action map[string]any) exchangeResponse {
	cancels, _ := action["cancels"].([]any)
	statuses := make([]any, 0, len(cancels))
	already := map[int64]struct{}{}
	for _, oid := range s.state.Cancelled() {
		already[oid] = struct{}{}
	}
	for _, c := range cancels {
		m, _ := c.(map[string]any)
		o, _ := m["o"].(float64)
		oid := int64(o)
		if _, done := already[oid]; !done && s.state.cancel(oid) {
			statuses = append(statuses, "success")
			continue
		}
		statuses = append(statuses, map[string]any{"error": "Order was never placed, already canceled, or filled."})
	}
	return exchangeResponse{
		Status:   "ok",
		Response: actionData{Type: "cancel", Data: map[string]any{"statuses": statuses}},
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req InfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	switch req.Type {
	case "meta":
		writeJSON(w, s.state.perpMeta())
	case "metaAndAssetCtxs":
		writeJSON(w, []any{s.state.perpMeta(), s.state.perpCtxs()})
	case "spotMeta":
		writeJSON(w, s.state.spotMeta())
	case "spotMetaAndAssetCtxs":
		writeJSON(w, []any{s.state.spotMeta(), s.state.spotCtxs()})
	case "allMids":
		writeJSON(w, s.state.mids)
	case "clearinghouseState":
		if raw, ok := s.state.accounts[req.User]; ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(raw)
			return
		}
		writeJSON(w, map[string]any{
			"marginSummary":      map[string]string{"accountValue": "0.0", "totalNtlPos": "0.0", "totalRawUsd": "0.0", "totalMarginUsed": "0.0"},
			"crossMarginSummary": map[string]string{"accountValue": "0.0", "totalNtlPos": "0.0", "totalRawUsd": "0.0", "totalMarginUsed": "0.0"},
			"withdrawable":       "0.0",
			"assetPositions":     []any{},
			"time":               time.Now().UnixMilli(),
		})
	case "openOrders":
		orders := s.state.openOrders[req.User]
		if orders == nil {
			orders = []OpenOrder{}
		}
		writeJSON(w, orders)
	default:
		http.Error(w, "unknown info type", http.StatusBadRequest)
	}
}

// The listing documents below follow the venue's shapes: meta carries margin
// tables as [id, table] tuples and the *AndAssetCtxs variants are
// [meta, ctxs] arrays. Callers hold s.mu.

type spotPair struct {
	Name        string `json:"name"`
	Tokens      []int  `json:"tokens"`
	Index       int    `json:"index"`
	IsCanonical bool   `json:"isCanonical"`
}

func (s *State) perpMeta() map[string]any {
	universe := make([]map[string]any, 0, len(s.perps))
	for _, p := range s.perps {
		universe = append(universe, map[string]any{
			"name":          p.Name,
			"szDecimals":    p.SzDecimals,
			"maxLeverage":   p.MaxLeverage,
			"marginTableId": p.MaxLeverage,
		})
	}
	tables := make([]any, 0, len(s.perps))
	seen := map[int]bool{}
	for _, p := range s.perps {
		if seen[p.MaxLeverage] {
			continue
		}
		seen[p.MaxLeverage] = true
		tables = append(tables, []any{p.MaxLeverage, map[string]any{
			"description": fmt.Sprintf("tiered %dx", p.MaxLeverage),
			"marginTiers": []map[string]any{{"lowerBound": "0.0", "maxLeverage": p.MaxLeverage}},
		}})
	}
	return map[string]any{"universe": universe, "marginTables": tables}
}

func (s *State) perpCtxs() []map[string]any {
	ctxs := make([]map[string]any, 0, len(s.perps))
	for _, p := range s.perps {
		px := s.mids[p.Name]
		if px == "" {
			px = "0.0"
		}
		ctxs = append(ctxs, map[string]any{
			"funding":      "0.0",
			"openInterest": "0.0",
			"prevDayPx":    px,
			"dayNtlVlm":    "0.0",
			"premium":      "0.0",
			"oraclePx":     px,
			"markPx":       px,
			"midPx":        px,
			"impactPxs":    []string{px, px},
		})
	}
	return ctxs
}

// spotMeta quotes every token after the first against the first one, the
// way the venue lists pairs against USDC.
func (s *State) spotMeta() map[string]any {
	pairs := make([]spotPair, 0, len(s.spotTokens))
	for i := 1; i < len(s.spotTokens); i++ {
		pairs = append(pairs, spotPair{
			Name:        fmt.Sprintf("@%d", i-1),
			Tokens:      []int{i, 0},
			Index:       i - 1,
			IsCanonical: s.spotTokens[i].IsCanonical,
		})
	}
	return map[string]any{"tokens": s.spotTokens, "universe": pairs}
}

func (s *State) spotCtxs() []map[string]any {
	ctxs := make([]map[string]any, 0, len(s.spotTokens))
	for i := 1; i < len(s.spotTokens); i++ {
		px := s.mids[s.spotTokens[i].Name]
		if px == "" {
			px = "0.0"
		}
		ctxs = append(ctxs, map[string]any{
			"coin":              fmt.Sprintf("@%d", i-1),
			"dayNtlVlm":         "0.0",
			"markPx":            px,
			"midPx":             px,
			"prevDayPx":         px,
			"circulatingSupply": "0.0",
		})
	}
	return ctxs
}
