package couchbase

// CasSetter is implemented by documents that track their CAS value for
// optimistic concurrency. Embed Cas to get it.
type CasSetter interface {
	SetCas(cas uint64)
}

// Cas stores the CAS value of the last read or write of a document.
type Cas struct {
	c uint64
}

// GetCas returns the current CAS value.
func (c *Cas) GetCas() uint64 {
	return c.c
}

// SetCas updates the CAS value.
func (c *Cas) SetCas(cas uint64) {
	c.c = cas
}
