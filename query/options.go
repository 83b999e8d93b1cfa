package query

// mergeQueryOptions layers override on top of base: every explicitly set
// field of override wins, everything else inherits.
func mergeQueryOptions(base, override Options) Options {
	merged := base
	merged.defaulted = false
	merged.QueryHash = ""
	if len(override.QueryKey) > 0 {
		merged.QueryKey = override.QueryKey
	}
	if override.QueryFn != nil {
		merged.QueryFn = override.QueryFn
	}
	if override.QueryHash != "" {
		merged.QueryHash = override.QueryHash
	}
	if override.QueryKeyHashFn != nil {
		merged.QueryKeyHashFn = override.QueryKeyHashFn
	}
	if override.StaleTime.IsSet() {
		merged.StaleTime = override.StaleTime
	}
	if override.GCTime != nil {
		merged.GCTime = override.GCTime
	}
	if override.Retry.IsSet() {
		merged.Retry = override.Retry
	}
	if override.RetryDelay.IsSet() {
		merged.RetryDelay = override.RetryDelay
	}
	if override.NetworkMode != "" {
		merged.NetworkMode = override.NetworkMode
	}
	if override.Enabled != nil {
		merged.Enabled = override.Enabled
	}
	if override.EnabledFn != nil {
		merged.EnabledFn = override.EnabledFn
	}
	if override.RefetchOnMount != RefetchInherit {
		merged.RefetchOnMount = override.RefetchOnMount
	}
	if override.RefetchOnWindowFocus != RefetchInherit {
		merged.RefetchOnWindowFocus = override.RefetchOnWindowFocus
	}
	if override.RefetchOnReconnect != RefetchInherit {
		merged.RefetchOnReconnect = override.RefetchOnReconnect
	}
	if override.RefetchInterval != 0 {
		merged.RefetchInterval = override.RefetchInterval
	}
	if override.RefetchIntervalFn != nil {
		merged.RefetchIntervalFn = override.RefetchIntervalFn
	}
	if override.RefetchIntervalInBackground {
		merged.RefetchIntervalInBackground = true
	}
	if override.Select != nil {
		merged.Select = override.Select
	}
	if override.StructuralSharing != nil {
		merged.StructuralSharing = override.StructuralSharing
	}
	if override.StructuralSharingFn != nil {
		merged.StructuralSharingFn = override.StructuralSharingFn
	}
	if override.PlaceholderData != nil {
		merged.PlaceholderData = override.PlaceholderData
	}
	if override.PlaceholderFunc != nil {
		merged.PlaceholderFunc = override.PlaceholderFunc
	}
	if override.InitialData != nil {
		merged.InitialData = override.InitialData
	}
	if override.InitialDataFunc != nil {
		merged.InitialDataFunc = override.InitialDataFunc
	}
	if override.InitialDataUpdatedAt != 0 {
		merged.InitialDataUpdatedAt = override.InitialDataUpdatedAt
	}
	if override.InitialDataUpdatedAtFn != nil {
		merged.InitialDataUpdatedAtFn = override.InitialDataUpdatedAtFn
	}
	if override.Meta != nil {
		merged.Meta = override.Meta
	}
	if override.ThrowOnError != nil {
		merged.ThrowOnError = override.ThrowOnError
	}
	if override.ThrowOnErrorFn != nil {
		merged.ThrowOnErrorFn = override.ThrowOnErrorFn
	}
	if override.NotifyOnChangeProps != nil {
		merged.NotifyOnChangeProps = override.NotifyOnChangeProps
	}
	if override.NotifyOnChangePropsFn != nil {
		merged.NotifyOnChangePropsFn = override.NotifyOnChangePropsFn
	}
	if override.Subscribed != nil {
		merged.Subscribed = override.Subscribed
	}
	if override.Persister != nil {
		merged.Persister = override.Persister
	}
	if override.MaxPages != 0 {
		merged.MaxPages = override.MaxPages
	}
	if override.behavior != nil {
		merged.behavior = override.behavior
	}
	return merged
}

// mergeMutationOptions layers override on top of base.
func mergeMutationOptions(base, override MutationOptions) MutationOptions {
	merged := base
	merged.defaulted = false
	if override.MutationFn != nil {
		merged.MutationFn = override.MutationFn
	}
	if len(override.MutationKey) > 0 {
		merged.MutationKey = override.MutationKey
	}
	if override.Scope != nil {
		merged.Scope = override.Scope
	}
	if override.OnMutate != nil {
		merged.OnMutate = override.OnMutate
	}
	if override.OnSuccess != nil {
		merged.OnSuccess = override.OnSuccess
	}
	if override.OnError != nil {
		merged.OnError = override.OnError
	}
	if override.OnSettled != nil {
		merged.OnSettled = override.OnSettled
	}
	if override.Retry.IsSet() {
		merged.Retry = override.Retry
	}
	if override.RetryDelay.IsSet() {
		merged.RetryDelay = override.RetryDelay
	}
	if override.NetworkMode != "" {
		merged.NetworkMode = override.NetworkMode
	}
	if override.GCTime != nil {
		merged.GCTime = override.GCTime
	}
	if override.Meta != nil {
		merged.Meta = override.Meta
	}
	if override.ThrowOnError != nil {
		merged.ThrowOnError = override.ThrowOnError
	}
	if override.ThrowOnErrorFn != nil {
		merged.ThrowOnErrorFn = override.ThrowOnErrorFn
	}
	return merged
}
