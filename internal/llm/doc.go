// Package llm abstracts the reasoning capability behind the shopping agent.
// A provider takes a conversation plus a set of declared tools and returns
// either a final text reply or a request to invoke a named tool.
package llm
