package detector

const noImplementation = "na"

type dedupKey struct {
	txHash string
	proxy  string
	impl   string
}

// dedupSet tracks findings already emitted for one transaction.
type dedupSet map[dedupKey]struct{}

func newDedupKey(txHash string, m Match) dedupKey {
	impl := m.NewImplementation
	if impl == "" {
		impl = noImplementation
	}
	return dedupKey{
		txHash: normalize(txHash),
		proxy:  m.Proxy,
		impl:   impl,
	}
}

// add records key and reports whether it was new.
func (s dedupSet) add(key dedupKey) bool {
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}
