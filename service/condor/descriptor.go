package condor

// Pair is one submit-file entry. Order is preserved: the batch system treats
// later entries as overrides, and tests assert on ordering.
type Pair struct {
	Key   string
	Value string
}

// Descriptor is the per-submission execution record handed to the scheduler
// backend: submit-file content in order plus the variables rendered into the
// job bootstrap.
type Descriptor struct {
	Content         []Pair
	RenderVariables map[string]string
}

// Append adds a submit-file entry.
func (d *Descriptor) Append(key, value string) {
	d.Content = append(d.Content, Pair{Key: key, Value: value})
}

// Lookup returns the last value recorded for key.
func (d *Descriptor) Lookup(key string) (string, bool) {
	for i := len(d.Content) - 1; i >= 0; i-- {
		if d.Content[i].Key == key {
			return d.Content[i].Value, true
		}
	}
	return "", false
}
