package assistant

import "hash/fnv"

// inputHash is a stable hash of (text, name). Verdicts and reply variants
// keyed on it are reproducible across runs.
func inputHash(text, name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}
