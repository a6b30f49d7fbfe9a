package featureflag

type Flag string

const (
	// Reconstructs meshes from the base proxy depth only.
	FlagDisableDepthOffsets Flag = "DISABLE_DEPTH_OFFSETS"

	// Keeps every pose until the pose store evicts it.
	FlagDisablePosePruning Flag = "DISABLE_POSE_PRUNING"

	// Fills meshes from the render loop goroutine.
	FlagDisableParallelReconstruction Flag = "DISABLE_PARALLEL_RECONSTRUCTION"

	// Always draws the newest depth frame instead of the one matching the
	// color frame.
	FlagDisableDepthAlignment Flag = "DISABLE_DEPTH_ALIGNMENT"

	FlagDisableLatencyLogs Flag = "DISABLE_LATENCY_LOGS"
	FlagDisableSceneReload Flag = "DISABLE_SCENE_RELOAD"
)

var knownFlags = map[Flag]struct{}{
	FlagDisableDepthOffsets:           {},
	FlagDisablePosePruning:            {},
	FlagDisableParallelReconstruction: {},
	FlagDisableDepthAlignment:         {},
	FlagDisableLatencyLogs:            {},
	FlagDisableSceneReload:            {},
}
