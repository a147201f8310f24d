// Package chat samples live chat activity for the monitor.
//
// Sampler drives a time-boxed pagination loop against a platform.ChatSource:
// it requests pages until the window deadline passes or a fetch fails, keeps
// one ChatAuthorRecord per author, and paces itself by the source's suggested
// polling interval. A fetch failure ends the window early and the partial
// sample is returned; it is never an error for the caller.
//
// TwitchSource adapts Twitch IRC (push-based) to the paged ChatSource contract
// by buffering PRIVMSGs between ListMessages calls.
package chat
