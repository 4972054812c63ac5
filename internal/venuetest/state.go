package venuetest

import (
	"encoding/json"
	"sync"
)

type PerpAsset struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage,omitempty"`
}

type SpotToken struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	WeiDecimals int    `json:"weiDecimals"`
	Index       int    `json:"index"`
	TokenID     string `json:"tokenId"`
	IsCanonical bool   `json:"isCanonical"`
}

type OpenOrder struct {
	Coin      string `json:"coin"`
	Side      string `json:"side"`
	LimitPx   string `json:"limitPx"`
	Sz        string `json:"sz"`
	Oid       int64  `json:"oid"`
	Timestamp int64  `json:"timestamp"`
}

// PlacedOrder is an order accepted through /exchange.
type PlacedOrder struct {
	Oid   int64
	Asset int
	IsBuy bool
	Price string
	Size  string
	Tif   string
}

type failure struct {
	status int
	body   string
}

// State is the mutable venue book. All methods are safe for concurrent use.
type State struct {
	mu sync.Mutex

	perps      []PerpAsset
	spotTokens []SpotToken
	mids       map[string]string
	accounts   map[string]json.RawMessage
	openOrders map[string][]OpenOrder

	placed    []PlacedOrder
	cancelled []int64
	nextOid   int64

	failures   []failure
	rejections []string
	orderError string
}

func NewState() *State {
	return &State{
		perps: []PerpAsset{
			{Name: "BTC", SzDecimals: 5, MaxLeverage: 50},
			{Name: "ETH", SzDecimals: 4, MaxLeverage: 50},
			{Name: "SOL", SzDecimals: 1, MaxLeverage: 20},
			{Name: "ARB", SzDecimals: 0, MaxLeverage: 20},
		},
		spotTokens: []SpotToken{
			{Name: "USDC", SzDecimals: 8, WeiDecimals: 8, Index: 0, TokenID: "0x1", IsCanonical: true},
			{Name: "PURR", SzDecimals: 0, WeiDecimals: 5, Index: 1, TokenID: "0x2", IsCanonical: true},
			{Name: "HYPE", SzDecimals: 2, WeiDecimals: 8, Index: 2, TokenID: "0x3", IsCanonical: true},
		},
		mids:       map[string]string{"BTC": "50124", "ETH": "3012.5"},
		accounts:   map[string]json.RawMessage{},
		openOrders: map[string][]OpenOrder{},
		nextOid:    1000,
	}
}

func (s *State) SetPerps(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perps = s.perps[:0]
	for _, n := range names {
		s.perps = append(s.perps, PerpAsset{Name: n, SzDecimals: 2, MaxLeverage: 20})
	}
}

func (s *State) SetSpotTokens(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spotTokens = s.spotTokens[:0]
	for i, n := range names {
		s.spotTokens = append(s.spotTokens, SpotToken{Name: n, SzDecimals: 2, WeiDecimals: 8, Index: i})
	}
}

func (s *State) SetMid(symbol, px string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mids[symbol] = px
}

func (s *State) ClearMids() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mids = map[string]string{}
}

// SetAccountState stores the clearinghouse document returned for user.
func (s *State) SetAccountState(user string, doc any) {
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[user] = raw
}

func (s *State) SetOpenOrders(user string, orders ...OpenOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openOrders[user] = append([]OpenOrder(nil), orders...)
}

// FailNext answers the next /exchange call with a raw HTTP status and body.
func (s *State) FailNext(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{status: status, body: body})
}

// RejectNext answers the next /exchange call with an "err" envelope.
func (s *State) RejectNext(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = append(s.rejections, msg)
}

// FailOrders makes every subsequent order status carry msg as its error.
func (s *State) FailOrders(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderError = msg
}

func (s *State) Placed() []PlacedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlacedOrder(nil), s.placed...)
}

func (s *State) Cancelled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.cancelled...)
}

func (s *State) popFailure() (failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) == 0 {
		return failure{}, false
	}
	f := s.failures[0]
	s.failures = s.failures[1:]
	return f, true
}

func (s *State) popRejection() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rejections) == 0 {
		return "", false
	}
	msg := s.rejections[0]
	s.rejections = s.rejections[1:]
	return msg, true
}

func (s *State) place(o PlacedOrder) (int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orderError != "" {
		return 0, s.orderError
	}
	s.nextOid++
	o.Oid = s.nextOid
	s.placed = append(s.placed, o)
	return o.Oid, ""
}

func (s *State) cancel(oid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, p := range s.placed {
		if p.Oid == oid {
			found = true
		}
	}
	for user, orders := range s.openOrders {
		kept := orders[:0]
		for _, o := range orders {
			if o.Oid == oid {
				found = true
				continue
			}
			kept = append(kept, o)
		}
		s.openOrders[user] = kept
	}
	if found {
		s.cancelled = append(s.cancelled, oid)
	}
	return found
}
