// Package security implements the cross-domain policy trust engine: it
// decides whether sandboxed content may reach a URL or send a request
// header, based on the policy files the target host publishes and the
// local sandbox classification.
//
// Components:
//   - Manager: per-session registry of pending/loaded policy files,
//     sandbox state and the evaluation API
//   - URLPolicyFile: one fetched policy document with master-file
//     detection and redirect rules
//   - SiteControl: a master file's site-wide meta-policy
//   - AllowAccessFrom / AllowHTTPRequestHeadersFrom: individual grants
//   - PortRange: port matching for socket-kind grants
//   - Verdict / Sandbox: evaluation outcomes and trust classifications
//
// Evaluation order (first failure wins):
//   - sandbox masks (remote flag for remote targets, active sandbox for
//     local ones)
//   - local-directory confinement when requested
//   - cross-domain policy walk: master file first, then any other files
//     its meta-policy admits
//
// Policy files load at most once. The fetch streams through a bounded
// ring buffer into a streaming XML parse, so a slow parse never stalls
// the producer beyond the ring capacity. A file that fails to fetch or
// parse stays registered as loaded-but-invalid and grants nothing;
// denial is a Verdict value, never an error.
//
// Example Usage:
//
//	mgr := security.NewManager(origin, security.Options{Fetch: reg})
//	f := mgr.AddPolicyFile("https://a.com/crossdomain.xml")
//	_ = mgr.LoadPolicyFile(ctx, f)
//	verdict := mgr.EvaluateURL(ctx, target, security.Evaluation{
//		LoadPending:   true,
//		AllowedRemote: security.SandboxRemote,
//		AllowedLocal:  security.LocalSandboxes,
//	})
package security
