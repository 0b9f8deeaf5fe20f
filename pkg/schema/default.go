package schema

// Default returns the built-in catalog of the exoskeleton dataset:
// nine node tables and fifteen relationship types.
func Default() *Catalog {
	c, err := NewCatalog(defaultNodes, defaultEdges)
	if err != nil {
		panic(err)
	}
	return c
}

var defaultNodes = []NodeTable{
	{Name: "Exo", RetainID: true},
	{Name: "Aim", RetainID: true},
	{Name: "Manufacturer", RetainID: true},
	{Name: "BodyPart", RetainID: true},
	{Name: "Activity", RetainID: true},
	{Name: "Property", RetainID: true},
	{Name: "Sector", RetainID: true},
	{Name: "TargetGroup", RetainID: true},
	// keywords are value instances, nothing points at them by _id
	{Name: "Keyword", RetainID: false},
}

var defaultEdges = []EdgeTable{
	{Type: "HAS_AIM", FromLabel: "Exo", FromKey: "exoId", ToLabel: "Aim", ToKey: "aimId",
		Properties: []string{"aimCategory"}},
	{Type: "MADE_BY", FromLabel: "Exo", FromKey: "exoId", ToLabel: "Manufacturer", ToKey: "manufacturerId"},
	{Type: "SUPPORTS_BODY_PART", FromLabel: "Exo", FromKey: "exoId", ToLabel: "BodyPart", ToKey: "bodyPartId",
		Properties: []string{"supportLevel"}},
	{Type: "SUITABLE_FOR_ACTIVITY", FromLabel: "Exo", FromKey: "exoId", ToLabel: "Activity", ToKey: "activityId",
		Properties: []string{"suitability"}},
	{Type: "HAS_PROPERTY", FromLabel: "Exo", FromKey: "exoId", ToLabel: "Property", ToKey: "propertyId",
		Properties: []string{"value", "unit"}},
	{Type: "USED_IN_SECTOR", FromLabel: "Exo", FromKey: "exoId", ToLabel: "Sector", ToKey: "sectorId",
		Properties: []string{"adoptionLevel"}},
	{Type: "INTENDED_FOR", FromLabel: "Exo", FromKey: "exoId", ToLabel: "TargetGroup", ToKey: "targetGroupId"},
	{Type: "SIMILAR_TO", FromLabel: "Exo", FromKey: "exoId", ToLabel: "Exo", ToKey: "similarExoId",
		Properties: []string{"similarityScore"}},
	{Type: "SUCCEEDS", FromLabel: "Exo", FromKey: "exoId", ToLabel: "Exo", ToKey: "predecessorExoId"},
	{Type: "AIM_TARGETS_BODY_PART", FromLabel: "Aim", FromKey: "aimId", ToLabel: "BodyPart", ToKey: "bodyPartId"},
	{Type: "AIM_RELATES_TO_ACTIVITY", FromLabel: "Aim", FromKey: "aimId", ToLabel: "Activity", ToKey: "activityId",
		Properties: []string{"relevance"}},
	{Type: "ACTIVITY_LOADS_BODY_PART", FromLabel: "Activity", FromKey: "activityId", ToLabel: "BodyPart", ToKey: "bodyPartId",
		Properties: []string{"loadLevel"}},
	{Type: "ACTIVITY_IN_SECTOR", FromLabel: "Activity", FromKey: "activityId", ToLabel: "Sector", ToKey: "sectorId"},
	{Type: "MANUFACTURER_ACTIVE_IN", FromLabel: "Manufacturer", FromKey: "manufacturerId", ToLabel: "Sector", ToKey: "sectorId",
		Properties: []string{"since"}},
	{Type: "TARGET_GROUP_PERFORMS", FromLabel: "TargetGroup", FromKey: "targetGroupId", ToLabel: "Activity", ToKey: "activityId",
		Properties: []string{"frequency"}},
}
