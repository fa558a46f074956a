// Package snapshot stores named captures of parameter values.
//
// Fits start from, and conditional Asimov datasets are generated at, states
// saved earlier in the run. A Key is either a plain label (Named), a label at
// a POI value (Conditional) or an NLL binding at a POI value (ForBinding).
//
//	store := snapshot.NewStore()
//	store.Save(snapshot.Named(snapshot.NominalNuis), m.Params, m.Nuisance)
//	// ... fit ...
//	if err := store.Load(snapshot.Named(snapshot.NominalNuis), m.Params); err != nil {
//	    // errors.Is(err, snapshot.ErrUnknownSnapshot)
//	}
package snapshot
