package wizard

import "quote-wizard/pkg/models"

// Step is a position in the quote wizard. StepDone is the terminal success state.
type Step int

const (
	StepTimeframe Step = iota + 1
	StepMoveSize
	StepServiceType
	StepProjectStatus
	StepLocation
	StepDestination
	StepEmail
	StepName
	StepPhone
	StepSendCode
	StepVerifyCode
	StepDone
)

// ServiceClass selects the branch of the step table
type ServiceClass int

const (
	// ClassMoving lets the visitor pick a service level on step 3
	ClassMoving ServiceClass = iota
	// ClassFixed pre-selects the entry service; step 3 only confirms it
	ClassFixed
	// ClassJunk is fixed to junk removal and never shows the move size step
	ClassJunk
)

func (c ServiceClass) String() string {
	switch c {
	case ClassFixed:
		return "fixed"
	case ClassJunk:
		return "junk"
	default:
		return "moving"
	}
}

// ClassOf maps the landing page's entry service to its branch
func ClassOf(service string) ServiceClass {
	switch service {
	case "", models.ServiceMoving:
		return ClassMoving
	case models.ServiceJunkRemoval:
		return ClassJunk
	default:
		return ClassFixed
	}
}

// ValidEntryService reports whether the landing page may start a wizard for service
func ValidEntryService(service string) bool {
	switch service {
	case "", models.ServiceMoving, models.ServiceJunkRemoval, models.ServiceLaborOnly:
		return true
	}
	return false
}

func all(to Step) map[ServiceClass]Step {
	return map[ServiceClass]Step{ClassMoving: to, ClassFixed: to, ClassJunk: to}
}

var forward = map[Step]map[ServiceClass]Step{
	StepTimeframe: {
		ClassMoving: StepMoveSize,
		ClassFixed:  StepMoveSize,
		ClassJunk:   StepServiceType,
	},
	StepMoveSize:      {ClassMoving: StepServiceType, ClassFixed: StepServiceType},
	StepServiceType:   all(StepProjectStatus),
	StepProjectStatus: all(StepLocation),
	StepLocation:      all(StepDestination),
	StepDestination:   all(StepEmail),
	StepEmail:         all(StepName),
	StepName:          all(StepPhone),
	StepPhone:         all(StepSendCode),
	StepSendCode:      all(StepVerifyCode),
	StepVerifyCode:    all(StepDone),
}

var backward = map[Step]map[ServiceClass]Step{
	StepMoveSize: {ClassMoving: StepTimeframe, ClassFixed: StepTimeframe},
	StepServiceType: {
		ClassMoving: StepMoveSize,
		ClassFixed:  StepMoveSize,
		ClassJunk:   StepTimeframe,
	},
	StepProjectStatus: all(StepServiceType),
	StepLocation:      all(StepProjectStatus),
	StepDestination:   all(StepLocation),
	StepEmail:         all(StepDestination),
	StepName:          all(StepEmail),
	StepPhone:         all(StepName),
	StepSendCode:      all(StepPhone),
	StepVerifyCode:    all(StepSendCode),
}

// Next returns the step after s, if s has one under class
func Next(s Step, class ServiceClass) (Step, bool) {
	to, ok := forward[s][class]
	return to, ok
}

// Previous returns the step before s. Step 1 and the terminal state have none.
func Previous(s Step, class ServiceClass) (Step, bool) {
	to, ok := backward[s][class]
	return to, ok
}

// TotalSteps is the length of the progress indicator
func TotalSteps(class ServiceClass) int {
	if class == ClassJunk {
		return 10
	}
	return 11
}

// DisplayStep is the number shown to the visitor, which closes the gap left by a skipped step
func DisplayStep(s Step, class ServiceClass) int {
	if s >= StepDone {
		return TotalSteps(class)
	}
	if class == ClassJunk && s >= StepServiceType {
		return int(s) - 1
	}
	return int(s)
}

var labels = map[Step]string{
	StepTimeframe:     models.StepLabelTimeframe,
	StepMoveSize:      models.StepLabelMoveSize,
	StepServiceType:   models.StepLabelServiceType,
	StepProjectStatus: models.StepLabelProjectStatus,
	StepLocation:      models.StepLabelLocation,
	StepDestination:   models.StepLabelDestination,
	StepEmail:         models.StepLabelEmail,
	StepName:          models.StepLabelName,
	StepPhone:         models.StepLabelPhone,
	StepSendCode:      models.StepLabelSMSSent,
	StepVerifyCode:    models.StepLabelVerified,
	StepDone:          models.StepLabelComplete,
}

// Label is the completed-step label written when s is passed
func Label(s Step) string {
	return labels[s]
}

// Resume picks the step a restored session reopens on from what the record already holds
func Resume(r models.QuoteRecord, class ServiceClass) Step {
	switch {
	case r.HasCompleted(models.StepLabelComplete):
		return StepDone
	case r.MoveTimeframe == "":
		return StepTimeframe
	case class != ClassJunk && r.MoveSize == "":
		return StepMoveSize
	case r.ServiceType == "":
		return StepServiceType
	case r.ProjectStatus == "":
		return StepProjectStatus
	case !r.OriginResolved() || !r.DestinationResolved():
		return StepLocation
	case !r.HasCompleted(models.StepLabelDestination):
		return StepDestination
	case r.Email == "":
		return StepEmail
	case r.FullName == "":
		return StepName
	default:
		// a code is never resumed; the visitor confirms the number again
		return StepPhone
	}
}
