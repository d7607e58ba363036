package visitors

import "hash/fnv"

var aliasColors = []string{
	"Amber", "Azure", "Coral", "Crimson", "Golden", "Indigo", "Ivory", "Jade",
	"Lilac", "Maroon", "Ochre", "Olive", "Scarlet", "Silver", "Teal", "Violet",
}

var aliasBirds = []string{
	"Albatross", "Bunting", "Condor", "Egret", "Finch", "Gannet", "Heron", "Ibis",
	"Kestrel", "Lapwing", "Magpie", "Nightjar", "Osprey", "Petrel", "Plover", "Puffin",
	"Robin", "Sandpiper", "Shrike", "Starling", "Swift", "Tern", "Warbler", "Wren",
}

// Alias is a stable display name for an identity so dashboards and reports
// never have to print raw IP addresses.
func (i Identity) Alias() string {
	h := fnv.New32a()
	h.Write([]byte(i.ProjectName))
	h.Write([]byte{0})
	h.Write([]byte(i.IPAddress))
	sum := int(h.Sum32())

	color := aliasColors[sum%len(aliasColors)]
	bird := aliasBirds[(sum/len(aliasColors))%len(aliasBirds)]
	return color + " " + bird
}
