package types

// Version is the canonical project version.
// The CLI, the upload wire protocol and the stored record formats share
// this version per the lockstep versioning policy.
const Version = "0.3.0"

// ProtocolVersion is the wire protocol version advertised in upload and
// finalize requests. It moves in lockstep with Version.
const ProtocolVersion = Version
