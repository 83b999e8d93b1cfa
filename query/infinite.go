package query

import (
	"github.com/querykit/go-querykit/retry"
)

// fetchContext carries one fetch through behavior hooks. A behavior may
// replace fetchFn to change how pages are produced.
type fetchContext struct {
	fetchFn      func(*FnContext) (any, error)
	fctx         *FnContext
	options      *Options
	fetchOptions *FetchOptions
	client       *Client
	query        *Query
}

// fetchBehavior customizes fetch execution; the default runs the query
// function once.
type fetchBehavior interface {
	onFetch(ctx *fetchContext)
}

// InfiniteData is the cached shape of a paginated query: the fetched pages
// and the page params that produced them, index-aligned.
type InfiniteData struct {
	Pages      []any
	PageParams []any
}

// GetPageParamFunc derives the param of the page adjacent to lastPage.
// ok=false means there is no further page in that direction.
type GetPageParamFunc func(lastPage any, allPages []any, lastPageParam any, allPageParams []any) (param any, ok bool)

// InfiniteOptions configure a paginated query.
type InfiniteOptions struct {
	Options
	InitialPageParam     any
	GetNextPageParam     GetPageParamFunc
	GetPreviousPageParam GetPageParamFunc
	// Pages is how many pages FetchInfiniteQuery walks up front.
	Pages int
}

type fetchMore struct {
	pageParam any
	direction fetchDirection
}

// infiniteBehavior implements the page-walking contract: an initial fetch
// loads (or a refetch reloads) each known page sequentially; a fetch-more
// appends or prepends one page, trimming to MaxPages.
type infiniteBehavior struct {
	opts *InfiniteOptions
}

func (b *infiniteBehavior) onFetch(ctx *fetchContext) {
	inner := ctx.fetchFn
	io := b.opts

	ctx.fetchFn = func(fctx *FnContext) (any, error) {
		var existing InfiniteData
		if data, ok := ctx.query.State().Data.(InfiniteData); ok {
			existing = data
		}

		fetchPage := func(param any, direction fetchDirection) (any, error) {
			pageCtx := &FnContext{
				ctx:            fctx.ctx,
				key:            fctx.key,
				meta:           fctx.meta,
				client:         fctx.client,
				pageParam:      param,
				direction:      direction,
				signalConsumed: fctx.signalConsumed,
			}
			return inner(pageCtx)
		}

		if ctx.fetchOptions != nil && ctx.fetchOptions.fetchMore != nil {
			more := ctx.fetchOptions.fetchMore
			page, err := fetchPage(more.pageParam, more.direction)
			if err != nil {
				return nil, err
			}
			var next InfiniteData
			if more.direction == fetchBackward {
				next = InfiniteData{
					Pages:      append([]any{page}, existing.Pages...),
					PageParams: append([]any{more.pageParam}, existing.PageParams...),
				}
			} else {
				next = InfiniteData{
					Pages:      append(append([]any{}, existing.Pages...), page),
					PageParams: append(append([]any{}, existing.PageParams...), more.pageParam),
				}
			}
			return trimPages(next, io.MaxPages, more.direction), nil
		}

		// Initial load or full refetch: walk pages from the initial param.
		pageCount := len(existing.Pages)
		if pageCount == 0 {
			pageCount = 1
		}
		if io.Pages > pageCount {
			pageCount = io.Pages
		}

		result := InfiniteData{}
		param := io.InitialPageParam
		if len(existing.PageParams) > 0 {
			param = existing.PageParams[0]
		}
		for i := 0; i < pageCount; i++ {
			if i > 0 {
				next, ok := nextPageParam(io, result)
				if !ok {
					break
				}
				param = next
			}
			page, err := fetchPage(param, fetchForward)
			if err != nil {
				return nil, err
			}
			result.Pages = append(result.Pages, page)
			result.PageParams = append(result.PageParams, param)
		}
		return result, nil
	}
}

func nextPageParam(io *InfiniteOptions, data InfiniteData) (any, bool) {
	if io.GetNextPageParam == nil || len(data.Pages) == 0 {
		return nil, false
	}
	last := data.Pages[len(data.Pages)-1]
	lastParam := data.PageParams[len(data.PageParams)-1]
	return io.GetNextPageParam(last, data.Pages, lastParam, data.PageParams)
}

func previousPageParam(io *InfiniteOptions, data InfiniteData) (any, bool) {
	if io.GetPreviousPageParam == nil || len(data.Pages) == 0 {
		return nil, false
	}
	first := data.Pages[0]
	firstParam := data.PageParams[0]
	return io.GetPreviousPageParam(first, data.Pages, firstParam, data.PageParams)
}

// trimPages drops pages from the far end when MaxPages is exceeded.
func trimPages(data InfiniteData, maxPages int, direction fetchDirection) InfiniteData {
	if maxPages <= 0 || len(data.Pages) <= maxPages {
		return data
	}
	if direction == fetchBackward {
		data.Pages = data.Pages[:maxPages]
		data.PageParams = data.PageParams[:maxPages]
	} else {
		data.Pages = data.Pages[len(data.Pages)-maxPages:]
		data.PageParams = data.PageParams[len(data.PageParams)-maxPages:]
	}
	return data
}

// InfiniteResult augments an ObserverResult with pagination state.
type InfiniteResult struct {
	ObserverResult
	HasNextPage     bool
	HasPreviousPage bool
}

// InfiniteObserver derives paginated results and exposes page fetches.
type InfiniteObserver struct {
	*Observer
	opts InfiniteOptions
}

// NewInfiniteObserver builds an observer over a paginated query.
func NewInfiniteObserver(client *Client, opts InfiniteOptions) *InfiniteObserver {
	opts.Options.behavior = &infiniteBehavior{opts: &opts}
	return &InfiniteObserver{
		Observer: NewObserver(client, opts.Options),
		opts:     opts,
	}
}

// CurrentInfiniteResult returns the paginated view of the current result.
func (o *InfiniteObserver) CurrentInfiniteResult() InfiniteResult {
	base := o.CurrentResult()
	out := InfiniteResult{ObserverResult: base}
	if data, ok := base.Data.(InfiniteData); ok {
		_, out.HasNextPage = nextPageParam(&o.opts, data)
		_, out.HasPreviousPage = previousPageParam(&o.opts, data)
	}
	return out
}

// FetchNextPage appends the next page. Joins an in-flight fetch rather than
// cancelling it.
func (o *InfiniteObserver) FetchNextPage() *retry.Future {
	data, _ := o.currentQuery().State().Data.(InfiniteData)
	param, ok := nextPageParam(&o.opts, data)
	if !ok && len(data.Pages) > 0 {
		return retry.Resolved(data)
	}
	if len(data.Pages) == 0 {
		param = o.opts.InitialPageParam
	}
	return o.currentQuery().Fetch(o.optionsSnapshot(), &FetchOptions{
		CancelRefetch: Ptr(false),
		fetchMore:     &fetchMore{pageParam: param, direction: fetchForward},
	})
}

// FetchPreviousPage prepends the previous page.
func (o *InfiniteObserver) FetchPreviousPage() *retry.Future {
	data, _ := o.currentQuery().State().Data.(InfiniteData)
	param, ok := previousPageParam(&o.opts, data)
	if !ok {
		return retry.Resolved(data)
	}
	return o.currentQuery().Fetch(o.optionsSnapshot(), &FetchOptions{
		CancelRefetch: Ptr(false),
		fetchMore:     &fetchMore{pageParam: param, direction: fetchBackward},
	})
}
