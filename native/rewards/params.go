package rewards

const (
	// MaxPlanNameLength bounds the stored plan name in bytes. The bound is
	// enforced at creation so plan records keep a fixed maximum size.
	MaxPlanNameLength = 50

	// RewardAssetDecimals is fixed for every plan asset at creation.
	RewardAssetDecimals uint8 = 6

	// MetadataUsesTotal configures the multiple-use policy recorded on the
	// plan asset's display metadata.
	MetadataUsesTotal uint64 = 100_000_000
)
