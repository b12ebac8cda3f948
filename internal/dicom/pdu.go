package dicom

// RejectResult is carried by an associate-reject.
type RejectResult uint8

const (
	RejectResultPermanent RejectResult = 1
	RejectResultTransient RejectResult = 2
)

func (r RejectResult) String() string {
	switch r {
	case RejectResultPermanent:
		return "permanent"
	case RejectResultTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// RejectSource names the layer that rejected an association.
type RejectSource uint8

const (
	RejectSourceServiceUser                 RejectSource = 1
	RejectSourceServiceProviderACSE         RejectSource = 2
	RejectSourceServiceProviderPresentation RejectSource = 3
)

func (s RejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service-user"
	case RejectSourceServiceProviderACSE:
		return "service-provider-acse"
	case RejectSourceServiceProviderPresentation:
		return "service-provider-presentation"
	default:
		return "unknown"
	}
}

// RejectReason values overlap between sources; interpret them together with
// the RejectSource they were sent with.
type RejectReason uint8

const (
	RejectReasonNoReasonGiven                  RejectReason = 1
	RejectReasonApplicationContextNotSupported RejectReason = 2
	RejectReasonCallingAENotRecognized         RejectReason = 3
	RejectReasonCalledAENotRecognized          RejectReason = 7

	RejectReasonProtocolVersionNotSupported RejectReason = 2

	RejectReasonTemporaryCongestion RejectReason = 1
	RejectReasonLocalLimitExceeded  RejectReason = 2
)

// RejectReasonString renders reason in the vocabulary of source.
func RejectReasonString(source RejectSource, reason RejectReason) string {
	switch source {
	case RejectSourceServiceUser:
		switch reason {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonApplicationContextNotSupported:
			return "application-context-not-supported"
		case RejectReasonCallingAENotRecognized:
			return "calling-ae-not-recognized"
		case RejectReasonCalledAENotRecognized:
			return "called-ae-not-recognized"
		}
	case RejectSourceServiceProviderACSE:
		switch reason {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonProtocolVersionNotSupported:
			return "protocol-version-not-supported"
		}
	case RejectSourceServiceProviderPresentation:
		switch reason {
		case RejectReasonTemporaryCongestion:
			return "temporary-congestion"
		case RejectReasonLocalLimitExceeded:
			return "local-limit-exceeded"
		}
	}
	return "unknown"
}

// AbortSource names the side that aborted an association.
type AbortSource uint8

const (
	AbortSourceUnknown         AbortSource = 0
	AbortSourceServiceUser     AbortSource = 1
	AbortSourceServiceProvider AbortSource = 2
)

func (s AbortSource) String() string {
	switch s {
	case AbortSourceServiceUser:
		return "service-user"
	case AbortSourceServiceProvider:
		return "service-provider"
	default:
		return "unknown"
	}
}

type AbortReason uint8

const (
	AbortReasonNotSpecified             AbortReason = 0
	AbortReasonUnrecognizedPDU          AbortReason = 1
	AbortReasonUnexpectedPDU            AbortReason = 2
	AbortReasonUnrecognizedPDUParameter AbortReason = 4
	AbortReasonUnexpectedPDUParameter   AbortReason = 5
	AbortReasonInvalidPDUParameter      AbortReason = 6
)

func (r AbortReason) String() string {
	switch r {
	case AbortReasonNotSpecified:
		return "not-specified"
	case AbortReasonUnrecognizedPDU:
		return "unrecognized-pdu"
	case AbortReasonUnexpectedPDU:
		return "unexpected-pdu"
	case AbortReasonUnrecognizedPDUParameter:
		return "unrecognized-pdu-parameter"
	case AbortReasonUnexpectedPDUParameter:
		return "unexpected-pdu-parameter"
	case AbortReasonInvalidPDUParameter:
		return "invalid-pdu-parameter"
	default:
		return "unknown"
	}
}
