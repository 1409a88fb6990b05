// Package emg holds the domain types shared by every layer of the online
// gesture-classification pipeline.
//
// Layer packages build on these types in dependency order:
//
//	l1samples   acquisition boundary and the sample buffer
//	l2windows   segmentation of the sample stream into windows
//	l3features  per-window feature vectors
//	l4classify  LDA classifier (offline training, online inference)
//	l5motion    rejection gate, motion mapper and pointer actuation
//	pipeline    the online control loop tying the layers together
//
// None of the layer packages import pipeline/.
package emg
