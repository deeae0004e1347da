// Package module implements Logic Modules: stateless, versioned units of
// behavior that run against a proxy's Storage Frame.
//
// A module never owns state. Every read and write goes through the Env the
// proxy hands it, which is bound to the proxy's frame for one call.
//
// Two runtimes exist. Native modules are compiled into the binary and looked
// up by spec name; the "counter" family (CounterV1, CounterV2, ReorderedC)
// lives here. Lua modules carry their source in the spec and are executed
// with github.com/Shopify/go-lua in a fresh interpreter per call.
//
// Registry turns deployed specs into runnable modules and caches them by
// content-addressed reference.
package module
