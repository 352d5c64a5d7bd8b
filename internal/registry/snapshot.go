package registry

// FromSnapshot rebuilds an Instance from a checkpoint, deriving kind and
// parameters from the snapshot itself.
func FromSnapshot(snap Snapshot) (Instance, error) {
	inst, err := New(Kind(snap.Kind), snap.Params)
	if err != nil {
		return nil, err
	}
	if err := inst.Restore(snap); err != nil {
		return nil, err
	}
	return inst, nil
}
