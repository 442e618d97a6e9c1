/*
Package script provides a JavaScript host for driving the security API.

# Overview

The engine embeds goja and binds one session's security manager into the
VM's global scope as the `security` object. Scripts exercise the same
operations the HTTP API exposes:

	security.evaluateURL(target, opts)     // access verdict for a URL
	security.evaluateHeader(target, h)     // verdict for a request header
	security.addPolicyFile(url)            // register a policy file
	security.loadPolicyFile(url)           // register and load
	security.sandbox()                     // active classification
	security.setSandbox(name)              // reclassify
	security.exactSettings(value, lock)    // settings latch

Console output (`console.log` and friends) is captured per run and
returned with the result.

# Security Model

Scripts cannot reach the host:

  - require/process/module/exports are absent
  - setTimeout/setInterval are no-ops
  - each run is bounded by a timeout enforced through VM interrupts
  - context cancellation interrupts a running script

# Usage Example

	engine := script.New(manager, script.DefaultConfig())
	result, err := engine.Execute(ctx, src)
	for _, line := range result.Console {
		fmt.Println(line.Message)
	}
*/
package script
