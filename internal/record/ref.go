package record

// Ref is the resolution state of a forward reference: Unresolved until
// population finds the referenced record, Resolved afterwards.
//
//	switch ref := ref.(type) {
//	case record.Resolved:
//		use(ref.Record)
//	case record.Unresolved:
//		use(ref.Key)
//	}
type Ref interface {
	isRef()
}

// Unresolved holds the raw key of a reference that has not been populated,
// or whose target was not found (a population miss). Key is nil for a null
// reference.
type Unresolved struct {
	Key any
}

// Resolved holds the populated target of a reference.
type Resolved struct {
	Record *Record
}

func (Unresolved) isRef() {}
func (Resolved) isRef()   {}
