package iterator

// CheckpointOverrideKey is the metadata key the WebUI host uses for
// checkpoint provenance in generation overrides and saved-image
// infotext. Downstream tooling reads this exact key.
const CheckpointOverrideKey = "sd_model_checkpoint"

// Annotate returns a copy of the metadata overrides with the
// checkpoint-name field set to the checkpoint that actually produced
// this batch (the post-swap value), independent of whatever possibly
// stale state the host believes is loaded.
//
// Pass-through plans and unstarted state leave the overrides untouched.
func Annotate(state *RunState, overrides map[string]string) map[string]string {
	if state == nil || state.Plan == nil || state.Plan.IsPassthrough() {
		return overrides
	}
	if state.Current.IsZero() {
		return overrides
	}

	out := make(map[string]string, len(overrides)+1)
	for k, v := range overrides {
		out[k] = v
	}
	out[CheckpointOverrideKey] = state.Current.OverrideTitle()
	return out
}
