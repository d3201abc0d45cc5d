package gradient

// GradientName returns the canonical name of the gradient value for a
// forward value. Every contribution to a value's gradient is accumulated
// under this name.
func GradientName(name string) string {
	return name + "_grad"
}

// ExternalOutputName returns the placeholder name carrying an externally
// supplied gradient seed when the plain gradient name is already produced
// inside the backward graph and the two must be reconciled by an Add.
func ExternalOutputName(gradName string) string {
	return gradName + "_external"
}
