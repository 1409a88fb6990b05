// Package l4classify implements the gesture classifier: linear discriminant
// analysis with a shared (pooled) covariance, trained offline from labelled
// feature vectors and evaluated online one window at a time.
//
// A trained Model is immutable. Online inference never adapts it; a new
// model is swapped into a Slot only while no control loop holds it.
package l4classify
