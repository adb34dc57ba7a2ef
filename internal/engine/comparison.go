package engine

type CompareEqual[A any, B any] func(key string, desired A, current B) bool

type CompareCallback[A any, B any] func(key string, desired A, current B)

/*
 * CompareEntities drives a keyed three-way diff between the desired
 * state (a) and the current remote state (b): onAdded for keys only in
 * a, onRemoved for keys only in b, onChanged for keys in both whose
 * values differ. The missing side of onAdded/onRemoved is the zero
 * value.
 */
func CompareEntities[A any, B any](a map[string]A, b map[string]B, compareFunction CompareEqual[A, B], onAdded CompareCallback[A, B], onRemoved CompareCallback[A, B], onChanged CompareCallback[A, B]) {
	var zeroA A
	var zeroB B

	// Check for removed or changed keys
	for key, value := range b {
		if desired, ok := a[key]; ok {
			if !compareFunction(key, desired, value) {
				onChanged(key, desired, value)
			}
		} else {
			onRemoved(key, zeroA, value)
		}
	}

	// Check for added keys
	for key, value := range a {
		if _, ok := b[key]; !ok {
			onAdded(key, value, zeroB)
		}
	}
}
