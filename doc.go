// Package personsearch implements joint person detection and
// re-identification over whole scene images.
//
// The Network couples a convolutional backbone, a region proposal
// subsystem and three task heads (detection classification, box
// regression, identity embedding) with a non-parametric identity bank:
// a lookup table of per-identity embeddings updated by exponential
// moving average, plus a circular queue of recent unlabeled embeddings.
// Training produces a five-part composite loss; inference runs in
// gallery mode (detect everyone in a scene) or query mode (embed one
// known person crop).
//
// Example:
//
//	bank-backed training step:
//
//	net, _ := personsearch.NewNetwork(bb, proposer, "prw", true)
//	losses, err := net.Train(ctx, &personsearch.TrainBatch{
//	    Image:   img,
//	    GTBoxes: boxes, // x1,y1,x2,y2,pid per row
//	    Info:    info,
//	})
//
//	gallery inference:
//
//	net, _ := personsearch.NewNetwork(bb, proposer, "prw", false)
//	res, err := net.Gallery(ctx, img, nil, info, config.DefaultBoxNormalization())
package personsearch
