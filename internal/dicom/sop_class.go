package dicom

import "strings"

// SopClass identifies an abstract syntax: the family of operations a
// presentation context proposes to carry.
type SopClass struct {
	UID  string `cbor:"1,keyasint"`
	Name string `cbor:"2,keyasint"`
	// Storage marks SOP classes whose requests carry a bulk object.
	Storage bool `cbor:"3,keyasint"`
}

func (s SopClass) String() string {
	if s.Name == "" {
		return s.UID
	}
	return s.Name
}

var (
	VerificationSopClass = SopClass{UID: "1.2.840.10008.1.1", Name: "Verification"}

	StudyRootQueryRetrieveFind = SopClass{UID: "1.2.840.10008.5.1.4.1.2.2.1", Name: "Study Root Query/Retrieve - FIND"}
	StudyRootQueryRetrieveMove = SopClass{UID: "1.2.840.10008.5.1.4.1.2.2.2", Name: "Study Root Query/Retrieve - MOVE"}

	ComputedRadiographyImageStorage = SopClass{UID: "1.2.840.10008.5.1.4.1.1.1", Name: "Computed Radiography Image Storage", Storage: true}
	CtImageStorage                  = SopClass{UID: "1.2.840.10008.5.1.4.1.1.2", Name: "CT Image Storage", Storage: true}
	MrImageStorage                  = SopClass{UID: "1.2.840.10008.5.1.4.1.1.4", Name: "MR Image Storage", Storage: true}
	UltrasoundImageStorage          = SopClass{UID: "1.2.840.10008.5.1.4.1.1.6.1", Name: "Ultrasound Image Storage", Storage: true}
	SecondaryCaptureImageStorage    = SopClass{UID: "1.2.840.10008.5.1.4.1.1.7", Name: "Secondary Capture Image Storage", Storage: true}
	DigitalXRayImageStorage         = SopClass{UID: "1.2.840.10008.5.1.4.1.1.1.1", Name: "Digital X-Ray Image Storage - For Presentation", Storage: true}
	NuclearMedicineImageStorage     = SopClass{UID: "1.2.840.10008.5.1.4.1.1.20", Name: "Nuclear Medicine Image Storage", Storage: true}
	GrayscaleSoftcopyPresentation   = SopClass{UID: "1.2.840.10008.5.1.4.1.1.11.1", Name: "Grayscale Softcopy Presentation State Storage", Storage: true}
	BasicTextSrStorage              = SopClass{UID: "1.2.840.10008.5.1.4.1.1.88.11", Name: "Basic Text SR Storage", Storage: true}
	KeyObjectSelectionDocument      = SopClass{UID: "1.2.840.10008.5.1.4.1.1.88.59", Name: "Key Object Selection Document Storage", Storage: true}
	EncapsulatedPdfStorage          = SopClass{UID: "1.2.840.10008.5.1.4.1.1.104.1", Name: "Encapsulated PDF Storage", Storage: true}
)

// ImageStorageSopClasses lists pixel-data storage classes that accept
// compressed transfer syntaxes.
func ImageStorageSopClasses() []SopClass {
	return []SopClass{
		ComputedRadiographyImageStorage,
		CtImageStorage,
		MrImageStorage,
		UltrasoundImageStorage,
		SecondaryCaptureImageStorage,
		DigitalXRayImageStorage,
		NuclearMedicineImageStorage,
	}
}

// NonImageStorageSopClasses lists storage classes limited to native syntaxes.
func NonImageStorageSopClasses() []SopClass {
	return []SopClass{
		GrayscaleSoftcopyPresentation,
		BasicTextSrStorage,
		KeyObjectSelectionDocument,
		EncapsulatedPdfStorage,
	}
}

var sopClassesByUID = func() map[string]SopClass {
	all := append([]SopClass{
		VerificationSopClass,
		StudyRootQueryRetrieveFind,
		StudyRootQueryRetrieveMove,
	}, ImageStorageSopClasses()...)
	all = append(all, NonImageStorageSopClasses()...)
	out := make(map[string]SopClass, len(all))
	for _, s := range all {
		out[s.UID] = s
	}
	return out
}()

// LookupSopClass resolves a known SOP class by uid. Unknown uids resolve to a
// bare SopClass carrying only the uid.
func LookupSopClass(uid string) (SopClass, bool) {
	uid = strings.TrimSpace(uid)
	s, ok := sopClassesByUID[uid]
	if !ok {
		return SopClass{UID: uid}, false
	}
	return s, true
}
