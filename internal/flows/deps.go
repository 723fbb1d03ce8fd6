package flows

// Deps groups flow dependency sets. The root client builds this once and
// wires each flow from it.
type Deps struct {
	Refresh     RefreshDeps
	AutoRefresh AutoRefreshDeps
}
